// Package health tracks the outcome of discovery sweeps for the status endpoint.
package health

import (
	"sync"
	"time"
)

type Status struct {
	Healthy     bool       `json:"healthy"`
	Started     time.Time  `json:"started"`
	LastSweep   *time.Time `json:"last_sweep,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	Devices     int        `json:"devices"`
	Failed      int        `json:"failed_devices"`
	LastError   string     `json:"last_error,omitempty"`
}

// Tracker records sweep results. The service is healthy when a sweep
// succeeded within MaxAge, or MaxAge has not yet passed since start.
type Tracker struct {
	MaxAge time.Duration

	mu          sync.RWMutex
	started     time.Time
	lastSweep   time.Time
	lastSuccess time.Time
	devices     int
	failed      int
	lastError   string
}

func NewTracker(started time.Time, maxAge time.Duration) *Tracker {
	return &Tracker{
		MaxAge:  maxAge,
		started: started,
	}
}

func (t *Tracker) SweepSucceeded(at time.Time, devices, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSweep = at
	t.lastSuccess = at
	t.devices = devices
	t.failed = failed
	t.lastError = ""
}

func (t *Tracker) SweepFailed(at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSweep = at
	if err != nil {
		t.lastError = err.Error()
	}
}

func (t *Tracker) Status(now time.Time) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Status{
		Started:   t.started,
		Devices:   t.devices,
		Failed:    t.failed,
		LastError: t.lastError,
	}
	if !t.lastSweep.IsZero() {
		ts := t.lastSweep
		s.LastSweep = &ts
	}
	if !t.lastSuccess.IsZero() {
		ts := t.lastSuccess
		s.LastSuccess = &ts
		s.Healthy = now.Sub(t.lastSuccess) <= t.MaxAge
	} else {
		s.Healthy = now.Sub(t.started) <= t.MaxAge
	}
	return s
}
