package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
)

const DeviceIDTag = "device_id"

// NewPoint converts a reading into an InfluxDB point measured under the device name
func NewPoint(r sensor.Reading) *write.Point {
	p := influxdb2.NewPointWithMeasurement(r.DeviceName).
		AddTag(DeviceIDTag, r.DeviceID).
		AddField("humidity", r.Humidity).
		AddField("temperature", r.Temperature)
	if r.Battery != nil {
		p = p.AddField("battery", *r.Battery)
	}
	if !r.Timestamp.IsZero() {
		p = p.SetTime(r.Timestamp)
	}
	return p
}

// PointWriter is the subset of api.WriteAPIBlocking used by the sink
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Logger *slog.Logger
}

type Influx struct {
	client influxdb2.Client
	writer PointWriter
	bucket string
	logger *slog.Logger
}

// NewInflux creates a sink writing synchronously to the given bucket
func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("InfluxDB token is required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return newInflux(client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Bucket, cfg.Logger), nil
}

func newInflux(client influxdb2.Client, writer PointWriter, bucket string, logger *slog.Logger) *Influx {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Influx{
		client: client,
		writer: writer,
		bucket: bucket,
		logger: logger,
	}
}

func (s *Influx) Record(ctx context.Context, r sensor.Reading) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "Save", slog.String("device_id", r.DeviceID), slog.Any("reading", r))
	if err := s.writer.WritePoint(ctx, NewPoint(r)); err != nil {
		return &WriteError{Sink: "influxdb", DeviceID: r.DeviceID, Err: err}
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "Saved", slog.String("device_id", r.DeviceID), slog.String("bucket", s.bucket))
	return nil
}

// Ping checks that the InfluxDB server reports itself healthy
func (s *Influx) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	health, err := s.client.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != domain.HealthCheckStatusPass {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB unhealthy: %s %s", health.Status, msg)
	}
	return nil
}

func (s *Influx) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
