package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/niktheblak/switchbot-influxdb/internal/config"
	"github.com/niktheblak/switchbot-influxdb/internal/health"
	"github.com/niktheblak/switchbot-influxdb/internal/metrics"
	"github.com/niktheblak/switchbot-influxdb/internal/poller"
	"github.com/niktheblak/switchbot-influxdb/internal/task"
	"github.com/niktheblak/switchbot-influxdb/pkg/sink"
	"github.com/niktheblak/switchbot-influxdb/pkg/switchbot"
)

const pingTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// app holds everything a poll-and-write run needs
type app struct {
	runner   *task.Runner
	sinks    sink.Multi
	latest   *sink.Latest
	health   *health.Tracker
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"Connecting to InfluxDB",
		slog.String("url", cfg.InfluxDB.URL),
		slog.String("org", cfg.InfluxDB.Org),
		slog.String("bucket", cfg.InfluxDB.Bucket),
	)
	influx, err := sink.NewInflux(sink.InfluxConfig{
		URL:    cfg.InfluxDB.URL,
		Token:  cfg.InfluxDB.Token,
		Org:    cfg.InfluxDB.Org,
		Bucket: cfg.InfluxDB.Bucket,
		Logger: logger,
	})
	if err != nil {
		return nil, &config.StartupError{Key: "influxdb", Err: err}
	}
	ping(ctx, logger, "influxdb", influx)
	sinks := sink.Multi{influx}
	if cfg.Postgres.Enabled() {
		logger.LogAttrs(
			ctx,
			slog.LevelInfo,
			"Connecting to TimescaleDB",
			slog.String("host", cfg.Postgres.Host),
			slog.Int("port", cfg.Postgres.Port),
			slog.String("database", cfg.Postgres.Database),
			slog.String("table", cfg.Postgres.Table),
		)
		pg, err := sink.NewPostgres(ctx, sink.PostgresConfig{
			ConnString: cfg.Postgres.ConnString(),
			Table:      cfg.Postgres.Table,
			Columns:    cfg.Postgres.Columns,
			Logger:     logger,
		})
		if err != nil {
			return nil, errors.Join(&config.StartupError{Key: "postgres", Err: err}, sinks.Close())
		}
		ping(ctx, logger, "postgres", pg)
		sinks = append(sinks, pg)
	}
	if cfg.MQTT.Enabled() {
		logger.LogAttrs(ctx, slog.LevelInfo, "Connecting to MQTT broker", slog.String("broker", cfg.MQTT.Broker), slog.String("topic", cfg.MQTT.Topic))
		mq, err := sink.NewMQTT(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			Logger:   logger,
		})
		if err != nil {
			return nil, errors.Join(&config.StartupError{Key: "mqtt", Err: err}, sinks.Close())
		}
		sinks = append(sinks, mq)
	}
	latest := sink.NewLatest()
	sinks = append(sinks, latest)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	tracker := health.NewTracker(time.Now(), 3*cfg.Interval)

	discovery := switchbot.NewDiscovery(switchbot.Config{
		Transport:   switchbot.NewBluetoothTransport(nil),
		ScanTimeout: cfg.ScanTimeout,
		Logger:      logger,
	})
	runner := task.New(task.Config{
		Poller:  poller.New(poller.Config{Sweeper: discovery, Logger: logger}),
		Sink:    sinks,
		Metrics: m,
		Health:  tracker,
		Logger:  logger,
	})
	return &app{
		runner:   runner,
		sinks:    sinks,
		latest:   latest,
		health:   tracker,
		registry: reg,
	}, nil
}

func (a *app) Close() error {
	return a.sinks.Close()
}

// ping logs a warning when a store is unreachable. The store may come up after
// us; writes fail and are logged until it does.
func ping(ctx context.Context, logger *slog.Logger, name string, p pinger) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		logger.LogAttrs(ctx, slog.LevelWarn, "Sink is not reachable", slog.String("sink", name), slog.Any("error", err))
	}
}
