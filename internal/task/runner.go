package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/niktheblak/switchbot-influxdb/internal/errkind"
	"github.com/niktheblak/switchbot-influxdb/internal/health"
	"github.com/niktheblak/switchbot-influxdb/internal/metrics"
	"github.com/niktheblak/switchbot-influxdb/internal/poller"
	"github.com/niktheblak/switchbot-influxdb/pkg/sink"
)

const dbusHint = "Ensure D-Bus socket is mounted and container has necessary privileges."

type Poller interface {
	Poll(ctx context.Context) ([]poller.Result, error)
}

type Config struct {
	Poller  Poller
	Sink    sink.Sink
	Metrics *metrics.Metrics
	Health  *health.Tracker
	Now     func() time.Time
	Logger  *slog.Logger
}

// Runner performs one poll-and-write cycle. Errors never escape RunOnce; they
// are logged once per failing device and the remaining devices are still saved.
type Runner struct {
	poller  Poller
	sink    sink.Sink
	metrics *metrics.Metrics
	health  *health.Tracker
	now     func() time.Time
	logger  *slog.Logger
}

func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.Health == nil {
		cfg.Health = health.NewTracker(cfg.Now(), 0)
	}
	return &Runner{
		poller:  cfg.Poller,
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		health:  cfg.Health,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

func (r *Runner) RunOnce(ctx context.Context) {
	start := r.now()
	r.metrics.InFlight.Inc()
	defer func() {
		r.metrics.InFlight.Dec()
		r.metrics.RunDuration.Observe(r.now().Sub(start).Seconds())
	}()
	r.logger.LogAttrs(ctx, slog.LevelInfo, "Run task")
	r.metrics.Sweeps.Inc()
	results, err := r.poller.Poll(ctx)
	if err != nil && ctx.Err() != nil {
		r.logger.LogAttrs(ctx, slog.LevelInfo, "Task cancelled")
		return
	}
	if err != nil {
		r.metrics.SweepFailures.Inc()
		r.health.SweepFailed(r.now(), err)
		r.logError(ctx, "Discovery error", "", err)
		return
	}
	r.metrics.Devices.Set(float64(len(results)))
	failed := 0
	for i, res := range results {
		if ctx.Err() != nil {
			// shutting down; the stores may already be closing
			r.logger.LogAttrs(ctx, slog.LevelInfo, "Task cancelled", slog.Int("unsaved", len(results)-i))
			return
		}
		if err := r.save(ctx, res); err != nil {
			failed++
			r.metrics.DeviceErrors.WithLabelValues(errkind.Of(err).String()).Inc()
			r.logError(ctx, "Save error", res.Address, err)
			continue
		}
		r.metrics.ReadingsSaved.Inc()
	}
	r.health.SweepSucceeded(r.now(), len(results), failed)
	r.logger.LogAttrs(ctx, slog.LevelInfo, "Task finished", slog.Int("devices", len(results)), slog.Int("failed", failed))
}

func (r *Runner) save(ctx context.Context, res poller.Result) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("device %s: panic: %v", res.Address, p)
		}
	}()
	if res.Err != nil {
		return res.Err
	}
	return r.sink.Record(ctx, res.Reading)
}

func (r *Runner) logError(ctx context.Context, msg, deviceID string, err error) {
	kind := errkind.Of(err)
	attrs := []slog.Attr{slog.String("kind", kind.String()), slog.Any("error", err)}
	if deviceID != "" {
		attrs = append(attrs, slog.String("device_id", deviceID))
	}
	if kind == errkind.Transport {
		r.logger.LogAttrs(ctx, slog.LevelError, "D-Bus error. "+dbusHint, attrs...)
		return
	}
	r.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}
