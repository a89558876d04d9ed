// Package scheduler runs recurring jobs from a fixed-resolution tick loop.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const DefaultResolution = time.Second

type Job func(ctx context.Context)

// Entry is a recurring job. Next is the time the job is due.
type Entry struct {
	Name     string
	Interval time.Duration
	Next     time.Time
	Job      Job
}

type Config struct {
	Resolution time.Duration
	// Dispatch starts a due job. The default runs it in a new goroutine
	// without waiting for it to finish.
	Dispatch func(ctx context.Context, job Job)
	Logger   *slog.Logger
}

// Scheduler checks its entries on every tick and dispatches the due ones.
// A job is rescheduled from the time it fired, not from when it completes, so
// runs of the same job may overlap.
type Scheduler struct {
	resolution time.Duration
	dispatch   func(ctx context.Context, job Job)
	logger     *slog.Logger

	running sync.WaitGroup

	mu      sync.Mutex
	ctx     context.Context
	entries []*Entry
}

func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = DefaultResolution
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(ctx context.Context, job Job) {
			go job(ctx)
		}
	}
	return &Scheduler{
		resolution: cfg.Resolution,
		dispatch:   cfg.Dispatch,
		logger:     cfg.Logger,
		ctx:        context.Background(),
	}
}

// Every registers job to first run at now+interval and then every interval
func (s *Scheduler) Every(name string, interval time.Duration, now time.Time, job Job) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &Entry{
		Name:     name,
		Interval: interval,
		Next:     now.Add(interval),
		Job:      job,
	}
	s.entries = append(s.entries, e)
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "Set schedule", slog.String("job", name), slog.Duration("interval", interval), slog.Time("next", e.Next))
	return e
}

// Tick dispatches every job due at now and returns the number dispatched
func (s *Scheduler) Tick(now time.Time) int {
	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !now.Before(e.Next) {
			e.Next = now.Add(e.Interval)
			due = append(due, e)
		}
	}
	ctx := s.ctx
	s.mu.Unlock()
	for _, e := range due {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "Dispatching job", slog.String("job", e.Name))
		job := e.Job
		s.running.Add(1)
		s.dispatch(ctx, func(ctx context.Context) {
			defer s.running.Done()
			job(ctx)
		})
	}
	return len(due)
}

// Run ticks at the configured resolution until ctx is cancelled. Jobs already
// dispatched receive ctx and are not waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Wait blocks until every dispatched job has returned. Call it after Run so
// that no job is still using shared resources when they are released. A
// custom Dispatch must eventually run every job it is given.
func (s *Scheduler) Wait() {
	s.running.Wait()
}

// Entries returns a copy of the registered entries
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		res[i] = *e
	}
	return res
}
