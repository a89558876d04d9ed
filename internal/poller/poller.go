package poller

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
	"github.com/niktheblak/switchbot-influxdb/pkg/switchbot"
)

// Sweeper returns the currently reachable temperature sensors
type Sweeper interface {
	TemperatureSensors(ctx context.Context) ([]switchbot.Device, error)
}

// Result is the outcome of extracting a reading from one discovered device.
// Err is set instead of Reading when the device had no usable payload.
type Result struct {
	Address string
	Reading sensor.Reading
	Err     error
}

type Config struct {
	Sweeper Sweeper
	Now     func() time.Time
	Logger  *slog.Logger
}

type Poller struct {
	sweeper Sweeper
	now     func() time.Time
	logger  *slog.Logger
}

func New(cfg Config) *Poller {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{
		sweeper: cfg.Sweeper,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// Poll performs one sweep. The returned error is non-nil only when the sweep
// itself failed; per-device failures are reported in Result.Err.
func (p *Poller) Poll(ctx context.Context) ([]Result, error) {
	devices, err := p.sweeper.TemperatureSensors(ctx)
	if err != nil {
		return nil, err
	}
	ts := p.now().UTC()
	results := make([]Result, 0, len(devices))
	for _, dev := range devices {
		r, err := sensor.FromPayload(dev.Address, dev.ModelName, dev.Data)
		if err == nil {
			r.Timestamp = ts
		}
		results = append(results, Result{
			Address: dev.Address,
			Reading: r,
			Err:     err,
		})
	}
	p.logger.LogAttrs(ctx, slog.LevelDebug, "Polled devices", slog.Int("devices", len(results)))
	return results, nil
}
