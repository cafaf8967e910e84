package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/hosting/internal/daemon"
	"github.com/psantana5/hosting/pkg/logging"
	"github.com/psantana5/hosting/pkg/shutdown"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the frame loop and keep the canary fresh",
	Long: `Run loads a session, writes the pid marker and ticks the canary at the
configured tick rate until SIGINT or SIGTERM. The canary is rewritten every
1200 ticks (20 seconds at the default 60 ticks per second).

Console commands are read from stdin with admin privilege:
  info | enable | disable

Send SIGHUP to re-read Hosting.cfg after changing it with
"hostingd enable" or "hostingd disable".

Example:
  hostingd run --storage /srv/torch/Instance/Hosting
  hostingd run --tick-rate 30 --no-console`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("tick-rate", 60, "frames per second driving the canary")
	runCmd.Flags().String("metrics-textfile", "", "node_exporter textfile path, relative to storage (default hosting.prom; an explicit empty value disables it)")
	runCmd.Flags().Bool("no-console", false, "do not read console commands from stdin")
	runCmd.Flags().Bool("no-log-file", false, "log to stdout only")

	viper.BindPFlag("tick_rate", runCmd.Flags().Lookup("tick-rate"))
	viper.BindPFlag("metrics_textfile", runCmd.Flags().Lookup("metrics-textfile"))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if noConsole, _ := cmd.Flags().GetBool("no-console"); noConsole {
		settings.Console = false
	}
	if noLogFile, _ := cmd.Flags().GetBool("no-log-file"); noLogFile {
		settings.LogToFile = false
	}

	logger := logging.NewLogger(logging.ParseLevel(settings.LogLevel), settings.LogJSON)
	if settings.LogToFile {
		fileLogger, err := logging.NewFileLogger(settings.LogDir(), "hostingd", logging.ParseLevel(settings.LogLevel), settings.LogJSON)
		if err != nil {
			return err
		}
		logger = fileLogger
	}

	host, err := daemon.NewHost(settings, logger)
	if err != nil {
		logger.Close()
		return err
	}

	mgr := shutdown.New(settings.ShutdownTimeout, logger)
	mgr.Register("logger", shutdown.CloseResource(logger))
	mgr.Register("host", func(ctx context.Context) error { return host.Close() })

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		mgr.WaitWithContext(ctx)
		cancel()
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				host.Reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("Starting hostingd", map[string]interface{}{
		"storage":   settings.StoragePath,
		"tick_rate": settings.TickRate,
		"pid":       os.Getpid(),
	})

	var console io.Reader
	if settings.Console {
		console = os.Stdin
	}
	runErr := host.Run(ctx, console, cmd.OutOrStdout())

	mgr.Trigger()
	cancel()
	if err := mgr.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return fmt.Errorf("hostingd stopped: %w", runErr)
	}
	return nil
}
