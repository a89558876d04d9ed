package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrMissingToken    = errors.New("InfluxDB token is required")
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrInvalidPort     = errors.New("invalid port")
)

// StartupError means the process must not start
type StartupError struct {
	Key string
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Key, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

type InfluxDB struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type Postgres struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
	Table    string
	Columns  map[string]string
}

func (p Postgres) Enabled() bool {
	return p.Host != ""
}

func (p Postgres) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host,
		p.Port,
		p.Username,
		p.Password,
		p.Database,
	)
}

type MQTT struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

func (m MQTT) Enabled() bool {
	return m.Broker != ""
}

type Server struct {
	Port   int
	Tokens []string
}

type Log struct {
	Level  string
	Format string
}

type Config struct {
	InfluxDB    InfluxDB
	Interval    time.Duration
	ScanTimeout time.Duration
	Postgres    Postgres
	MQTT        MQTT
	Server      Server
	Log         Log
}

// SetDefaults registers the default values of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("influxdb.url", "http://influxdb:8086")
	v.SetDefault("influxdb.org", "org")
	v.SetDefault("influxdb.bucket", "switchbot")
	v.SetDefault("schedule.interval", "5m")
	v.SetDefault("bluetooth.scan_timeout", "5s")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.table", "switchbot")
	v.SetDefault("mqtt.client_id", "switchbot-influxdb")
	v.SetDefault("mqtt.topic", "switchbot")
	v.SetDefault("server.port", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads and validates the configuration. All errors are *StartupError.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		InfluxDB: InfluxDB{
			URL:    v.GetString("influxdb.url"),
			Token:  v.GetString("influxdb.token"),
			Org:    v.GetString("influxdb.org"),
			Bucket: v.GetString("influxdb.bucket"),
		},
		Interval:    v.GetDuration("schedule.interval"),
		ScanTimeout: v.GetDuration("bluetooth.scan_timeout"),
		Postgres: Postgres{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetInt("postgres.port"),
			Username: v.GetString("postgres.username"),
			Password: v.GetString("postgres.password"),
			Database: v.GetString("postgres.database"),
			Table:    v.GetString("postgres.table"),
			Columns:  v.GetStringMapString("postgres.columns"),
		},
		MQTT: MQTT{
			Broker:   v.GetString("mqtt.broker"),
			ClientID: v.GetString("mqtt.client_id"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
			Topic:    v.GetString("mqtt.topic"),
		},
		Server: Server{
			Port:   v.GetInt("server.port"),
			Tokens: v.GetStringSlice("server.token"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if cfg.InfluxDB.Token == "" {
		return Config{}, &StartupError{Key: "influxdb.token", Err: ErrMissingToken}
	}
	if cfg.Interval <= 0 {
		return Config{}, &StartupError{Key: "schedule.interval", Err: ErrInvalidInterval}
	}
	if cfg.ScanTimeout <= 0 {
		return Config{}, &StartupError{Key: "bluetooth.scan_timeout", Err: ErrInvalidInterval}
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return Config{}, &StartupError{Key: "server.port", Err: ErrInvalidPort}
	}
	if cfg.Postgres.Enabled() && (cfg.Postgres.Port <= 0 || cfg.Postgres.Port > 65535) {
		return Config{}, &StartupError{Key: "postgres.port", Err: ErrInvalidPort}
	}
	return cfg, nil
}
