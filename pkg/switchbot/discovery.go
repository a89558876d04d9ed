package switchbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

var ErrTransport = errors.New("bluetooth transport error")

const DefaultScanTimeout = 5 * time.Second

// DiscoveryError is returned when a sweep could not be performed at all
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Transport delivers BLE advertisements to fn until ctx is done.
type Transport interface {
	Scan(ctx context.Context, fn func(Advertisement)) error
}

type Config struct {
	Transport   Transport
	ScanTimeout time.Duration
	Logger      *slog.Logger
}

type Discovery struct {
	transport   Transport
	scanTimeout time.Duration
	logger      *slog.Logger
}

func NewDiscovery(cfg Config) *Discovery {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	return &Discovery{
		transport:   cfg.Transport,
		scanTimeout: cfg.ScanTimeout,
		logger:      cfg.Logger,
	}
}

// TemperatureSensors scans for the configured timeout and returns every
// SwitchBot temperature sensor seen, in the order they were first seen.
func (d *Discovery) TemperatureSensors(ctx context.Context) ([]Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, d.scanTimeout)
	defer cancel()
	var (
		mu      sync.Mutex
		order   []string
		devices = make(map[string]Device)
	)
	err := d.transport.Scan(scanCtx, func(adv Advertisement) {
		dev, ok := ParseAdvertisement(adv)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		prev, seen := devices[dev.Address]
		if !seen {
			order = append(order, dev.Address)
			d.logger.LogAttrs(
				ctx,
				slog.LevelDebug,
				"Found device",
				slog.String("address", dev.Address),
				slog.String("local_name", adv.LocalName),
				slog.String("model", dev.ModelName),
				slog.Int("rssi", int(dev.RSSI)),
			)
		} else if dev.Data == nil {
			dev.Data = prev.Data
		}
		devices[dev.Address] = dev
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, &DiscoveryError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &DiscoveryError{Err: err}
	}
	mu.Lock()
	defer mu.Unlock()
	result := make([]Device, 0, len(order))
	for _, addr := range order {
		result = append(result, devices[addr])
	}
	d.logger.LogAttrs(ctx, slog.LevelDebug, "Sweep finished", slog.Int("devices", len(result)))
	return result, nil
}
