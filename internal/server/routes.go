package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/niktheblak/switchbot-influxdb/internal/health"
	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
)

func healthHandler(tracker *health.Tracker, now func() time.Time, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tracker == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		status := tracker.Status(now())
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store, max-age=0")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			logger.LogAttrs(r.Context(), slog.LevelError, "Error while writing output", slog.Any("error", err))
		}
	})
}

func readingsHandler(source ReadingSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loc, err := parseLocation(r.URL.Query().Get("tz"))
		if err != nil {
			logger.LogAttrs(r.Context(), slog.LevelWarn, "Invalid timezone", slog.String("timezone", r.URL.Query().Get("tz")), slog.Any("error", err))
			http.Error(w, "Invalid timezone", http.StatusBadRequest)
			return
		}
		response := make(map[string]map[string]any)
		if source != nil {
			for id, reading := range source.Readings() {
				response[id] = createResponse(reading, loc)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store, max-age=0")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.LogAttrs(r.Context(), slog.LevelError, "Error while writing output", slog.Any("error", err))
		}
	})
}

func parseLocation(tz string) (loc *time.Location, err error) {
	if tz != "" {
		loc, err = time.LoadLocation(tz)
		return
	}
	loc = time.UTC
	return
}

func createResponse(r sensor.Reading, loc *time.Location) map[string]any {
	m := map[string]any{
		"ts":          r.Timestamp.In(loc),
		"device_id":   r.DeviceID,
		"name":        r.DeviceName,
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
	}
	if r.Battery != nil {
		m["battery"] = *r.Battery
	}
	return m
}
