package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/niktheblak/switchbot-influxdb/internal/config"
)

var (
	cfgFile string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:          "switchbot-influxdb",
	Short:        "Store SwitchBot thermometer readings in InfluxDB",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(viper.GetString("log.level"), viper.GetString("log.format"), os.Stderr)
		if err != nil {
			return &config.StartupError{Key: "log", Err: err}
		}
		logger = l
		slog.SetDefault(l)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	logger = slog.Default()
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/switchbot-influxdb/config.toml)")
	rootCmd.PersistentFlags().String("log.level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log.format", "text", "log format (text or json)")
	rootCmd.PersistentFlags().String("influxdb.url", "", "InfluxDB URL")
	rootCmd.PersistentFlags().String("influxdb.org", "", "InfluxDB organization")
	rootCmd.PersistentFlags().String("influxdb.bucket", "", "InfluxDB bucket")
	rootCmd.PersistentFlags().Duration("bluetooth.scan_timeout", 0, "duration of one Bluetooth sweep")

	cobra.CheckErr(viper.BindPFlags(rootCmd.PersistentFlags()))

	config.SetDefaults(viper.GetViper())
}

func initConfig() {
	if err := gotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.LogAttrs(context.Background(), slog.LevelWarn, "Could not read .env", slog.Any("error", err))
	}
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/switchbot-influxdb")
		viper.AddConfigPath("$HOME/.switchbot-influxdb")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := viper.ReadInConfig(); err == nil {
		logger.LogAttrs(context.Background(), slog.LevelInfo, "Using config file", slog.String("config", viper.ConfigFileUsed()))
	}
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, AddSource: true})), nil
	case "text", "":
		h := charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(lvl),
			ReportTimestamp: true,
			ReportCaller:    true,
		})
		return slog.New(h), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
}
