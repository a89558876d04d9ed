package task

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niktheblak/switchbot-influxdb/internal/metrics"
	"github.com/niktheblak/switchbot-influxdb/internal/poller"
	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
	"github.com/niktheblak/switchbot-influxdb/pkg/sink"
	"github.com/niktheblak/switchbot-influxdb/pkg/switchbot"
)

type staticPoller struct {
	results []poller.Result
	err     error
}

func (p *staticPoller) Poll(ctx context.Context) ([]poller.Result, error) {
	return p.results, p.err
}

type recordingSink struct {
	mu       sync.Mutex
	points   []*write.Point
	attempts []string
	failures map[string]error
	panics   map[string]bool
}

func (s *recordingSink) Record(ctx context.Context, r sensor.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, r.DeviceID)
	if s.panics[r.DeviceID] {
		panic("nil map write")
	}
	if err, ok := s.failures[r.DeviceID]; ok {
		return &sink.WriteError{Sink: "influxdb", DeviceID: r.DeviceID, Err: err}
	}
	s.points = append(s.points, sink.NewPoint(r))
	return nil
}

func (s *recordingSink) Close() error {
	return nil
}

type logEntry struct {
	Level    string `json:"level"`
	Msg      string `json:"msg"`
	DeviceID string `json:"device_id"`
	Kind     string `json:"kind"`
}

func parseLogs(t *testing.T, buf *bytes.Buffer) []logEntry {
	var entries []logEntry
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var e logEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	return entries
}

func errorsFor(entries []logEntry, deviceID string) []logEntry {
	var res []logEntry
	for _, e := range entries {
		if e.Level == "ERROR" && e.DeviceID == deviceID {
			res = append(res, e)
		}
	}
	return res
}

func result(addr string, payload map[string]any) poller.Result {
	r, err := sensor.FromPayload(addr, "Meter", payload)
	return poller.Result{Address: addr, Reading: r, Err: err}
}

func newTestRunner(p Poller, s sink.Sink) (*Runner, *metrics.Metrics, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	m := metrics.New(nil)
	r := New(Config{
		Poller:  p,
		Sink:    s,
		Metrics: m,
		Logger:  slog.New(slog.NewJSONHandler(buf, nil)),
	})
	return r, m, buf
}

func TestRunOnceEndToEnd(t *testing.T) {
	t.Parallel()

	p := &staticPoller{results: []poller.Result{
		result("A", map[string]any{"temperature": 22.5, "humidity": 55, "battery": 90}),
		result("B", map[string]any{"temperature": 18.0, "humidity": 40}),
	}}
	s := new(recordingSink)
	r, m, _ := newTestRunner(p, s)
	r.RunOnce(context.Background())

	require.Len(t, s.points, 2)
	a, b := s.points[0], s.points[1]
	assert.Equal(t, "A", a.TagList()[0].Value)
	assert.Len(t, a.FieldList(), 3)
	assert.Equal(t, "B", b.TagList()[0].Value)
	assert.Len(t, b.FieldList(), 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReadingsSaved))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestRunOnceIsolatesFailingDevice(t *testing.T) {
	t.Parallel()

	for k := 0; k < 4; k++ {
		for _, mode := range []string{"extraction", "write", "panic"} {
			t.Run(fmt.Sprintf("%s at %d", mode, k), func(t *testing.T) {
				t.Parallel()

				addrs := []string{"D0", "D1", "D2", "D3"}
				var results []poller.Result
				for i, addr := range addrs {
					payload := map[string]any{"temperature": 20 + i, "humidity": 40}
					if i == k && mode == "extraction" {
						payload = nil
					}
					results = append(results, result(addr, payload))
				}
				s := &recordingSink{failures: map[string]error{}, panics: map[string]bool{}}
				switch mode {
				case "write":
					s.failures[addrs[k]] = errors.New("unauthorized access")
				case "panic":
					s.panics[addrs[k]] = true
				}
				r, m, buf := newTestRunner(&staticPoller{results: results}, s)
				r.RunOnce(context.Background())

				assert.Len(t, s.points, 3)
				for i, addr := range addrs {
					if i == k {
						continue
					}
					assert.Contains(t, s.attempts, addr)
				}
				entries := parseLogs(t, buf)
				assert.Len(t, errorsFor(entries, addrs[k]), 1)
				for i, addr := range addrs {
					if i != k {
						assert.Empty(t, errorsFor(entries, addr))
					}
				}
				assert.Equal(t, 3.0, testutil.ToFloat64(m.ReadingsSaved))
			})
		}
	}
}

func TestRunOnceDiscoveryError(t *testing.T) {
	t.Parallel()

	p := &staticPoller{err: &switchbot.DiscoveryError{Err: errors.New("no adapter")}}
	s := new(recordingSink)
	r, m, buf := newTestRunner(p, s)
	r.RunOnce(context.Background())

	assert.Empty(t, s.attempts)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepFailures))
	entries := parseLogs(t, buf)
	var errs []logEntry
	for _, e := range entries {
		if e.Level == "ERROR" {
			errs = append(errs, e)
		}
	}
	require.Len(t, errs, 1)
	assert.Equal(t, "Discovery error", errs[0].Msg)
}

func TestRunOnceCategorizesTransportErrors(t *testing.T) {
	t.Parallel()

	p := &staticPoller{results: []poller.Result{
		result("A", map[string]any{"temperature": 21, "humidity": 50}),
		result("B", map[string]any{"temperature": 22, "humidity": 51}),
	}}
	s := &recordingSink{failures: map[string]error{
		"A": dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"},
		"B": errors.New("timeout"),
	}}
	r, m, buf := newTestRunner(p, s)
	r.RunOnce(context.Background())

	entries := parseLogs(t, buf)
	a := errorsFor(entries, "A")
	require.Len(t, a, 1)
	assert.True(t, strings.HasPrefix(a[0].Msg, "D-Bus error"))
	assert.Equal(t, "transport", a[0].Kind)
	b := errorsFor(entries, "B")
	require.Len(t, b, 1)
	assert.Equal(t, "Save error", b[0].Msg)
	assert.Equal(t, "write", b[0].Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeviceErrors.WithLabelValues("transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeviceErrors.WithLabelValues("write")))
}

type cancellingPoller struct {
	cancel  context.CancelFunc
	results []poller.Result
	err     error
}

func (p *cancellingPoller) Poll(ctx context.Context) ([]poller.Result, error) {
	p.cancel()
	return p.results, p.err
}

func TestRunOnceCancelled(t *testing.T) {
	t.Parallel()

	t.Run("during discovery", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		p := &cancellingPoller{cancel: cancel, err: &switchbot.DiscoveryError{Err: context.Canceled}}
		r, m, buf := newTestRunner(p, new(recordingSink))
		r.RunOnce(ctx)

		assert.Equal(t, 0.0, testutil.ToFloat64(m.SweepFailures))
		for _, e := range parseLogs(t, buf) {
			assert.NotEqual(t, "ERROR", e.Level, e.Msg)
		}
	})
	t.Run("before saving", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		p := &cancellingPoller{cancel: cancel, results: []poller.Result{
			result("A", map[string]any{"temperature": 21, "humidity": 50}),
		}}
		s := new(recordingSink)
		r, m, buf := newTestRunner(p, s)
		r.RunOnce(ctx)

		assert.Empty(t, s.attempts)
		assert.Equal(t, 0.0, testutil.ToFloat64(m.ReadingsSaved))
		entries := parseLogs(t, buf)
		assert.Empty(t, errorsFor(entries, "A"))
		assert.Equal(t, "Task cancelled", entries[len(entries)-1].Msg)
	})
}
