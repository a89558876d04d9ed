package sink

import (
	"context"
	"sync"

	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
)

// Latest keeps the most recent reading of every device in memory
type Latest struct {
	mu       sync.RWMutex
	readings map[string]sensor.Reading
}

func NewLatest() *Latest {
	return &Latest{readings: make(map[string]sensor.Reading)}
}

func (l *Latest) Record(ctx context.Context, r sensor.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.readings[r.DeviceID]
	if ok && prev.Timestamp.After(r.Timestamp) {
		// an overlapping, older sweep finished late
		return nil
	}
	l.readings[r.DeviceID] = r
	return nil
}

// Readings returns a copy of the latest readings keyed by device ID
func (l *Latest) Readings() map[string]sensor.Reading {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m := make(map[string]sensor.Reading, len(l.readings))
	for k, v := range l.readings {
		m[k] = v
	}
	return m
}

func (l *Latest) Close() error {
	return nil
}
