package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/niktheblak/web-common/pkg/auth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/niktheblak/switchbot-influxdb/internal/config"
	"github.com/niktheblak/switchbot-influxdb/internal/scheduler"
	"github.com/niktheblak/switchbot-influxdb/internal/server"
)

var runCmd = &cobra.Command{
	Use:          "run",
	Short:        "Poll sensors on a fixed interval and write readings",
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

		var wg sync.WaitGroup
		if cfg.Server.Port > 0 {
			var authenticator auth.Authenticator
			if len(cfg.Server.Tokens) > 0 {
				logger.Info("Using authentication", "tokens", len(cfg.Server.Tokens))
				authenticator = auth.Static(cfg.Server.Tokens...)
			} else {
				logger.Info("Not using authentication")
				authenticator = auth.AlwaysAllow()
			}
			httpServer := &http.Server{
				Addr: fmt.Sprintf(":%d", cfg.Server.Port),
				Handler: server.New(server.Config{
					Readings:      a.latest,
					Health:        a.health,
					Gatherer:      a.registry,
					Authenticator: authenticator,
					Logger:        logger,
				}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logger.LogAttrs(ctx, slog.LevelInfo, "Starting server", slog.Int("port", cfg.Server.Port))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Failed to start HTTP server", "err", err)
				}
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Error("Failed to shut down HTTP server", "err", err)
				}
			}()
		}

		sched := scheduler.New(scheduler.Config{Logger: logger})
		sched.Every("poll", cfg.Interval, time.Now(), a.runner.RunOnce)
		logger.LogAttrs(ctx, slog.LevelInfo, "Start main", slog.Duration("interval", cfg.Interval))
		err = sched.Run(ctx)
		logger.Info("Shutting down service")
		// dispatched runs see the cancelled context; let them return before the sinks close
		sched.Wait()
		wg.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	runCmd.Flags().Duration("schedule.interval", 0, "interval between sweeps")
	runCmd.Flags().String("postgres.host", "", "host")
	runCmd.Flags().Int("postgres.port", 0, "port")
	runCmd.Flags().String("postgres.username", "", "username")
	runCmd.Flags().String("postgres.password", "", "password")
	runCmd.Flags().String("postgres.database", "", "database name")
	runCmd.Flags().String("postgres.table", "", "table name")
	runCmd.Flags().String("mqtt.broker", "", "MQTT broker URL, e.g. tcp://mosquitto:1883")
	runCmd.Flags().String("mqtt.topic", "", "MQTT topic prefix")
	runCmd.Flags().Int("server.port", 0, "status server port (0 disables the server)")
	runCmd.Flags().StringSlice("server.token", nil, "allowed API access tokens")

	cobra.CheckErr(viper.BindPFlags(runCmd.Flags()))

	rootCmd.AddCommand(runCmd)
}
