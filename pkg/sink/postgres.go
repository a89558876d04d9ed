package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/niktheblak/switchbot-influxdb/pkg/sensor"
)

var DefaultColumns = map[string]string{
	"time":        "time",
	"device_id":   "device_id",
	"name":        "name",
	"temperature": "temperature",
	"humidity":    "humidity",
	"battery":     "battery",
}

var columnOrder = []string{"time", "device_id", "name", "temperature", "humidity", "battery"}

var insertTmpl = template.Must(template.New("InsertReading").Parse(`
	INSERT INTO {{.Table}} ({{.Columns}})
	VALUES ({{.Placeholders}})
`))

type insertTmplValues struct {
	Table        string
	Columns      string
	Placeholders string
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresConfig struct {
	ConnString string
	Table      string
	Columns    map[string]string
	Logger     *slog.Logger
}

// Postgres writes readings into a Postgres or TimescaleDB table
type Postgres struct {
	pool   *pgxpool.Pool
	db     execer
	query  string
	logger *slog.Logger
}

func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	q, err := BuildInsert(cfg.Table, cfg.Columns)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, err
	}
	s := newPostgres(pool, q, cfg.Logger)
	s.pool = pool
	return s, nil
}

func newPostgres(db execer, query string, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger.LogAttrs(context.Background(), slog.LevelDebug, "Rendered query", slog.String("query", CleanForLogging(query)))
	return &Postgres{
		db:     db,
		query:  query,
		logger: logger,
	}
}

// BuildInsert renders the insert statement for the given table and column mapping
func BuildInsert(table string, columns map[string]string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name is required")
	}
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	var (
		names        []string
		placeholders []string
	)
	for i, key := range columnOrder {
		c, ok := columns[key]
		if !ok || c == "" {
			return "", fmt.Errorf("column %s is required", key)
		}
		names = append(names, c)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	b := new(strings.Builder)
	err := insertTmpl.Execute(b, insertTmplValues{
		Table:        table,
		Columns:      strings.Join(names, ", "),
		Placeholders: strings.Join(placeholders, ", "),
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Postgres) Record(ctx context.Context, r sensor.Reading) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, s.query, ts, r.DeviceID, r.DeviceName, r.Temperature, r.Humidity, r.Battery)
	if err != nil {
		return &WriteError{Sink: "postgres", DeviceID: r.DeviceID, Err: err}
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "Inserted reading", slog.String("device_id", r.DeviceID))
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func CleanForLogging(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
