package sink

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
)

// Sink persists sensor readings. Implementations are safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, r sensor.Reading) error
	io.Closer
}

// WriteError is returned when a store rejects or fails to write a reading
type WriteError struct {
	Sink     string
	DeviceID string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: write device %s: %v", e.Sink, e.DeviceID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Multi records every reading to all of its sinks. A failing sink does not
// prevent the remaining sinks from being written.
type Multi []Sink

func (m Multi) Record(ctx context.Context, r sensor.Reading) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
