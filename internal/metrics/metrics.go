// Package metrics defines the Prometheus collectors exported by the poller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Sweeps        prometheus.Counter
	SweepFailures prometheus.Counter
	ReadingsSaved prometheus.Counter
	DeviceErrors  *prometheus.CounterVec
	Devices       prometheus.Gauge
	InFlight      prometheus.Gauge
	RunDuration   prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchbot_sweeps_total",
			Help: "Total discovery sweeps started.",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchbot_sweep_failures_total",
			Help: "Sweeps aborted because the Bluetooth transport failed.",
		}),
		ReadingsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchbot_readings_saved_total",
			Help: "Readings written to all configured sinks.",
		}),
		DeviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchbot_device_errors_total",
			Help: "Devices skipped in a sweep, by error kind.",
		}, []string{"kind"}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchbot_devices_discovered",
			Help: "Devices found by the latest successful sweep.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchbot_runs_in_flight",
			Help: "Poll-and-write runs currently executing. Values above one mean runs overlap.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchbot_run_duration_seconds",
			Help:    "Duration of one poll-and-write run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Sweeps, m.SweepFailures, m.ReadingsSaved, m.DeviceErrors, m.Devices, m.InFlight, m.RunDuration)
	}
	return m
}
