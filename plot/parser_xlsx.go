package plot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadReadingsXLSX reads a telemetry batch from the first sheet of a workbook.
// The first row names the columns (longitude, latitude, rawValue, voltage,
// capacitance or their feed aliases); every following non-empty row is a reading.
func ReadReadingsXLSX(path string) ([]TelemetryReading, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return []TelemetryReading{}, nil
	}

	header := make([]string, len(rows[0]))
	for i, name := range rows[0] {
		header[i] = strings.TrimSpace(name)
	}

	payloads := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		p := make(map[string]any, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if v, err := strconv.ParseFloat(cell, 64); err == nil {
				p[header[i]] = v
			} else if cell != "" {
				p[header[i]] = cell
			}
		}
		payloads = append(payloads, p)
	}
	return NormalizePayloads(payloads), nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
