package main

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kwv/cacaomap/plot"
)

// maxBatchBytes caps a POST /update body.
const maxBatchBytes = 32 << 20

// newHTTPServer creates the echo server with all endpoints.
func newHTTPServer(a *App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	h := &httpHandlers{app: a}
	e.POST("/update", h.update)
	e.GET("/health", h.health)
	e.GET("/cultivos.geojson", h.cropUnits)
	e.GET("/arboles.geojson", h.plants)
	e.GET("/map.svg", h.mapSVG)
	e.GET("/map.png", h.mapPNG)
	e.GET("/jitter", h.jitter)
	return e
}

type httpHandlers struct {
	app *App
}

func (h *httpHandlers) update(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBatchBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": err.Error()})
	}
	readings, err := plot.ParseReadings(body)
	if err != nil {
		log.Printf("[HTTP] /update rejected from %s: %v", c.RealIP(), err)
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": err.Error()})
	}

	result, err := h.app.Ingest(c.Request().Context(), "http", readings)
	if err != nil {
		log.Printf("[HTTP] /update failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": err.Error()})
	}
	log.Printf("[HTTP] /update from %s: %d readings, generation %s", c.RealIP(), result.Count, result.GenerationID)
	return c.JSON(http.StatusOK, result)
}

func (h *httpHandlers) health(c echo.Context) error {
	ctx := c.Request().Context()
	status := struct {
		Status     string               `json:"status"`
		Timestamp  time.Time            `json:"timestamp"`
		Generation *plot.Generation     `json:"generation,omitempty"`
		Runs       plot.TrackerSnapshot `json:"runs"`
		MQTT       bool                 `json:"mqttConnected"`
	}{
		Status:    "ok",
		Timestamp: time.Now(),
		Runs:      h.app.Tracker.Snapshot(),
		MQTT:      h.app.MQTTClient != nil && h.app.MQTTClient.IsConnected(),
	}
	gen, err := h.app.Store.ActiveGeneration(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": err.Error()})
	}
	status.Generation = gen
	return c.JSON(http.StatusOK, status)
}

func (h *httpHandlers) cropUnits(c echo.Context) error {
	units, err := h.app.Store.ActiveCropUnits(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": err.Error()})
	}
	fc, err := plot.CropUnitCollection(units)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": err.Error()})
	}
	return geoJSON(c, fc)
}

func (h *httpHandlers) plants(c echo.Context) error {
	plants, err := h.app.Store.ActivePlants(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": err.Error()})
	}
	fc, err := plot.PlantCollection(plants)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": err.Error()})
	}
	return geoJSON(c, fc)
}

func geoJSON(c echo.Context, v interface{ MarshalJSON() ([]byte, error) }) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": err.Error()})
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, "application/geo+json", data)
}

func (h *httpHandlers) mapSVG(c echo.Context) error {
	return h.renderMap(c, "svg", "image/svg+xml")
}

func (h *httpHandlers) mapPNG(c echo.Context) error {
	return h.renderMap(c, "png", "image/png")
}

func (h *httpHandlers) renderMap(c echo.Context, format, contentType string) error {
	var buf bytes.Buffer
	if err := h.app.RenderMap(c.Request().Context(), &buf, format); err != nil {
		log.Printf("[HTTP] /map.%s failed: %v", format, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": err.Error()})
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}

func (h *httpHandlers) jitter(c echo.Context) error {
	id := c.QueryParam("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "id is required"})
	}
	delta := h.app.Config.Render.JitterDelta
	if v := c.QueryParam("delta"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"detail": "delta must be a number"})
		}
		delta = d
	}
	lat, lng := plot.Jitter(id, delta)
	return c.JSON(http.StatusOK, echo.Map{"id": id, "delta": delta, "latOffset": lat, "lngOffset": lng})
}
