package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/kwv/cacaomap/plot"
)

// mqttRunTimeout bounds how long an MQTT batch may wait for the queue.
const mqttRunTimeout = 5 * time.Minute

// App wires the store, the pipeline and the ingestion surfaces together.
type App struct {
	Config     *plot.Config
	Store      plot.Store
	Pipeline   *plot.Pipeline
	Queue      *plot.RunQueue
	Tracker    *plot.RunTracker
	MQTTClient *plot.MQTTClient
	Publisher  *plot.Publisher
}

// NewApp builds an App over store. The run queue is started by Start.
func NewApp(config *plot.Config, store plot.Store) (*App, error) {
	pipeline, err := plot.NewPipeline(store, config)
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:   config,
		Store:    store,
		Pipeline: pipeline,
		Queue:    plot.NewRunQueue(pipeline, 16),
		Tracker:  plot.NewRunTracker(),
	}
	a.Queue.OnResult(a.onRunResult)
	return a, nil
}

// loadConfig reads path when it exists, otherwise starts from defaults, then
// applies environment overrides.
func loadConfig(path string) (*plot.Config, error) {
	config := plot.DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := plot.LoadConfig(path)
			if err != nil {
				return nil, err
			}
			config = loaded
			log.Printf("Loaded config from %s", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checking config %s: %w", path, err)
		}
	}
	plot.ApplyEnvOverrides(config)
	if err := plot.ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// openApp loads config, opens the SQLite store and seeds the catalog.
func openApp(ctx context.Context, configPath string) (*App, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := plot.OpenGormStore(config.DatabasePath)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(config, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := app.SeedCatalog(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

// Start launches the run queue consumer.
func (a *App) Start() {
	a.Queue.Start()
}

// Close drains the queue, disconnects MQTT and closes the store.
func (a *App) Close() error {
	a.Queue.Close()
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	return a.Store.Close()
}

// SeedCatalog inserts the configured maturity states when the catalog is empty.
func (a *App) SeedCatalog(ctx context.Context) error {
	existing, err := a.Store.ListMaturityStates(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 || len(a.Config.MaturityStates) == 0 {
		return nil
	}
	states := make([]plot.MaturityState, len(a.Config.MaturityStates))
	for i, name := range a.Config.MaturityStates {
		states[i] = plot.MaturityState{ID: uuid.NewString(), Name: name}
	}
	log.Printf("Seeding %d maturity states", len(states))
	return a.Store.UpsertMaturityStates(ctx, states)
}

// Ingest submits a batch through the run queue.
func (a *App) Ingest(ctx context.Context, source string, readings []plot.TelemetryReading) (*plot.RunResult, error) {
	return a.Queue.Submit(ctx, source, readings)
}

// IngestFile reads a JSON or XLSX batch from disk and ingests it.
func (a *App) IngestFile(ctx context.Context, path string) (*plot.RunResult, error) {
	var readings []plot.TelemetryReading
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		readings, err = plot.ReadReadingsXLSX(path)
	default:
		readings, err = plot.ParseReadingsFile(path)
	}
	if err != nil {
		return nil, err
	}
	return a.Ingest(ctx, "cli", readings)
}

// ImportParcels loads parcels from a GeoJSON file or feed URL into the store.
func (a *App) ImportParcels(ctx context.Context, file, url string) (int, error) {
	var parcels []plot.Parcel
	switch {
	case url != "":
		var err error
		parcels, err = plot.FetchParcels(ctx, url)
		if err != nil {
			return 0, err
		}
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", file, err)
		}
		parcels, err = plot.ParseParcelCollection(data)
		if err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("either a file or a URL is required")
	}
	if err := a.Store.UpsertParcels(ctx, parcels); err != nil {
		return 0, err
	}
	return len(parcels), nil
}

// StartMQTT connects to the broker when one is configured.
func (a *App) StartMQTT() {
	client := plot.InitMQTT(a.Config.MQTT, a.handleTelemetry)
	if client == nil {
		return
	}
	a.attachMQTT(client)
}

func (a *App) attachMQTT(client *plot.MQTTClient) {
	a.MQTTClient = client
	a.Publisher = plot.NewPublisher(client.Client(), a.Config.MQTT.PublishPrefix)
}

// handleTelemetry runs one MQTT batch. The broker has no reply channel, so
// failures are only logged.
func (a *App) handleTelemetry(topic string, readings []plot.TelemetryReading, err error) {
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mqttRunTimeout)
	defer cancel()
	if _, err := a.Ingest(ctx, "mqtt", readings); err != nil {
		log.Printf("[MQTT] batch from %s failed: %v", topic, err)
	}
}

func (a *App) onRunResult(source string, result *plot.RunResult, err error) {
	a.Tracker.Record(source, result, err)
	if err != nil || a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishGeneration(source, result); err != nil {
		log.Printf("[MQTT] error publishing generation: %v", err)
	}
}

// RenderMap draws the active generation as "svg" or "png".
func (a *App) RenderMap(ctx context.Context, w io.Writer, format string) error {
	units, err := a.Store.ActiveCropUnits(ctx)
	if err != nil {
		return err
	}
	plants, err := a.Store.ActivePlants(ctx)
	if err != nil {
		return err
	}
	states, err := a.Store.ListMaturityStates(ctx)
	if err != nil {
		return err
	}

	renderer := plot.NewMapRenderer(units, plants, states, a.Config.Render)
	if gen, err := a.Store.ActiveGeneration(ctx); err == nil && gen != nil {
		renderer.Caption = fmt.Sprintf("generation %s, %d crop units", gen.ID, len(units))
	}

	switch format {
	case "svg":
		return renderer.RenderToSVG(w)
	case "png":
		return renderer.RenderToPNG(w)
	default:
		return fmt.Errorf("unknown render format %q", format)
	}
}

// printRunSummary writes a colored one-line summary for CLI runs.
func printRunSummary(w io.Writer, result *plot.RunResult) {
	fmt.Fprintf(w, "%s %d readings -> %d crop units (generation %s)\n",
		color.New(color.FgGreen).Sprint("OK"),
		result.Count, result.CropUnits,
		color.New(color.FgCyan).Sprint(result.GenerationID))
}

func printFailure(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", color.New(color.FgRed).Sprint("FAILED"), err)
}
