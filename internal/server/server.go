package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/niktheblak/web-common/pkg/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/niktheblak/switchbot-influxdb/internal/health"
	"github.com/niktheblak/switchbot-influxdb/pkg/middleware"
	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
)

// ReadingSource returns the latest reading of every device keyed by device ID
type ReadingSource interface {
	Readings() map[string]sensor.Reading
}

type Config struct {
	Readings      ReadingSource
	Health        *health.Tracker
	Gatherer      prometheus.Gatherer
	Authenticator auth.Authenticator
	Now           func() time.Time
	Logger        *slog.Logger
}

// New returns the status API handler
func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.AlwaysAllow()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := mux.NewRouter()
	r.Handle("/health", healthHandler(cfg.Health, cfg.Now, cfg.Logger)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/readings", middleware.Authenticator(readingsHandler(cfg.Readings, cfg.Logger), cfg.Authenticator)).Methods(http.MethodGet)
	return handlers.CustomLoggingHandler(io.Discard, r, accessLog(cfg.Logger))
}

func accessLog(logger *slog.Logger) handlers.LogFormatter {
	return func(_ io.Writer, p handlers.LogFormatterParams) {
		logger.LogAttrs(
			p.Request.Context(),
			slog.LevelDebug,
			"HTTP request",
			slog.String("method", p.Request.Method),
			slog.String("path", p.URL.Path),
			slog.Int("status", p.StatusCode),
			slog.Int("size", p.Size),
		)
	}
}
