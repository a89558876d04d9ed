package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/niktheblak/switchbot-influxdb/internal/config"
)

var errSweepFailed = errors.New("sweep failed")

var pollCmd = &cobra.Command{
	Use:          "poll",
	Short:        "Run a single sweep, write the readings and exit",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Error("Failed to close sinks", "err", err)
			}
		}()
		a.runner.RunOnce(ctx)
		status := a.health.Status(time.Now())
		logger.LogAttrs(ctx, slog.LevelInfo, "Sweep done", slog.Int("devices", status.Devices), slog.Int("failed", status.Failed))
		if status.LastError != "" {
			return errSweepFailed
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
