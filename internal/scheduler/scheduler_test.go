package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickSchedule(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	var fired []int
	var second int
	s := New(Config{
		Dispatch: func(ctx context.Context, job Job) { job(ctx) },
	})
	s.Every("poll", 5*time.Minute, start, func(ctx context.Context) {
		fired = append(fired, second)
	})
	for second = 1; second <= 899; second++ {
		s.Tick(start.Add(time.Duration(second) * time.Second))
		if second < 300 {
			require.Empty(t, fired, "dispatched before first interval at %ds", second)
		}
	}
	assert.Equal(t, []int{300, 600}, fired)
}

func TestTickReschedulesFromFireTime(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	s := New(Config{Dispatch: func(ctx context.Context, job Job) {}})
	s.Every("poll", time.Minute, start, func(ctx context.Context) {})
	// a late tick fires once and the next run is due one interval after it
	n := s.Tick(start.Add(90 * time.Second))
	assert.Equal(t, 1, n)
	assert.Equal(t, start.Add(150*time.Second), s.Entries()[0].Next)
	assert.Equal(t, 0, s.Tick(start.Add(149*time.Second)))
	assert.Equal(t, 1, s.Tick(start.Add(150*time.Second)))
}

func TestTickDoesNotWaitForJobs(t *testing.T) {
	t.Parallel()

	start := time.Now()
	release := make(chan struct{})
	var running atomic.Int32
	s := New(Config{})
	s.Every("poll", time.Second, start, func(ctx context.Context) {
		running.Add(1)
		<-release
	})
	s.Tick(start.Add(time.Second))
	s.Tick(start.Add(2 * time.Second))
	assert.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
}

func TestRun(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := New(Config{Resolution: time.Millisecond})
	s.Every("poll", 5*time.Millisecond, time.Now(), func(ctx context.Context) {
		runs.Add(1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWaitForDispatchedJobs(t *testing.T) {
	t.Parallel()

	start := time.Now()
	release := make(chan struct{})
	var finished atomic.Bool
	s := New(Config{})
	s.Every("poll", time.Second, start, func(ctx context.Context) {
		<-release
		finished.Store(true)
	})
	require.Equal(t, 1, s.Tick(start.Add(time.Second)))
	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a job was running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-waited:
		assert.True(t, finished.Load())
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the job finished")
	}
}
