package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/psantana5/hosting/internal/canary"
	"github.com/psantana5/hosting/internal/commands"
	"github.com/psantana5/hosting/internal/hostcfg"
	"github.com/psantana5/hosting/internal/metrics"
	"github.com/psantana5/hosting/internal/session"
	"github.com/psantana5/hosting/internal/supervisor"
	"github.com/psantana5/hosting/pkg/logging"
)

// Host wires config, session manager, supervisor, metrics and console
// together and runs the frame loop.
type Host struct {
	settings *Settings
	logger   *logging.Logger

	config     *hostcfg.Config
	sessions   *session.Manager
	supervisor *supervisor.Supervisor
	metrics    *metrics.Metrics
	commands   *commands.Module
}

// NewHost builds every component, loads Hosting.cfg and subscribes the
// supervisor to session transitions.
func NewHost(settings *Settings, logger *logging.Logger) (*Host, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(settings.StoragePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	h := &Host{
		settings: settings,
		logger:   logger.WithField("component", "host"),
		config:   hostcfg.New(settings.StoragePath, logger),
		sessions: session.NewManager(logger),
	}
	h.config.Load()

	h.metrics = metrics.New(h.config.Enabled)
	h.config.OnChange(func(string) { h.flushMetrics() })

	h.supervisor = supervisor.New(supervisor.Options{
		StoragePath: settings.StoragePath,
		Config:      h.config,
		Logger:      logger,
		CanaryOptions: []canary.Option{
			canary.WithObserver(func(t time.Time) {
				h.metrics.ObserveCanaryWrite(t)
				h.flushMetrics()
			}),
		},
	})
	h.commands = commands.New(h.config, settings.StoragePath, logger)

	if _, err := h.sessions.Subscribe(h.metrics); err != nil {
		return nil, err
	}
	if err := h.supervisor.Init(h.sessions); err != nil {
		return nil, fmt.Errorf("failed to initialize supervisor: %w", err)
	}
	return h, nil
}

// Config returns the hosting config.
func (h *Host) Config() *hostcfg.Config {
	return h.config
}

// Supervisor returns the supervisor.
func (h *Host) Supervisor() *supervisor.Supervisor {
	return h.supervisor
}

// Reload re-reads Hosting.cfg, for example after an operator changed it.
func (h *Host) Reload() {
	h.logger.Info("Reloading configuration")
	h.config.Load()
	h.flushMetrics()
}

// Run loads a session, ticks the supervisor at the configured rate and
// executes console lines from console, until ctx is done or a frame fails.
// The session is always unloaded before Run returns.
func (h *Host) Run(ctx context.Context, console io.Reader, out io.Writer) (err error) {
	defer func() {
		err = errors.Join(err, h.unload())
	}()

	for _, state := range []session.State{session.Loading, session.Loaded} {
		if err := h.sessions.Transition(state); err != nil {
			return fmt.Errorf("session %s: %w", state, err)
		}
	}

	lines := h.readConsole(ctx, console)

	interval := h.settings.FrameInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.logger.Info("Frame loop started", map[string]interface{}{
		"tick_rate": h.settings.TickRate,
		"interval":  interval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.supervisor.Update(); err != nil {
				h.logger.Error("Frame update failed", map[string]interface{}{"error": err.Error()})
				return fmt.Errorf("frame update: %w", err)
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			h.commands.Execute(&commands.Context{
				Level:     commands.Admin,
				InSession: h.sessions.State() == session.Loaded,
				Out:       out,
			}, line)
		}
	}
}

func (h *Host) unload() error {
	if h.sessions.State() == session.Unloaded {
		return nil
	}
	var errs []error
	for _, state := range []session.State{session.Unloading, session.Unloaded} {
		if err := h.sessions.Transition(state); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", state, err))
		}
	}
	return errors.Join(errs...)
}

// readConsole feeds non-empty lines from r into the returned channel, which
// is closed at EOF. A nil reader yields a nil channel.
//
// Cancelling ctx does not interrupt a Read already in progress: the goroutine
// exits at the next line or at EOF. Run never waits for it, and hostingd
// only passes os.Stdin, which lives until the process exits. Callers with
// another reader should close it after Run returns.
func (h *Host) readConsole(ctx context.Context, r io.Reader) <-chan string {
	if r == nil {
		return nil
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			h.logger.Warn("Console read failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	return lines
}

func (h *Host) flushMetrics() {
	path := h.settings.MetricsPath()
	if path == "" || h.metrics == nil {
		return
	}
	if err := h.metrics.WriteTextfile(path); err != nil {
		h.logger.Warn("Failed to write metrics textfile", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
}

// Close disposes the supervisor and writes a final metrics snapshot. The
// config is not saved here; an operator may have edited it on disk.
func (h *Host) Close() error {
	h.supervisor.Dispose()
	h.flushMetrics()
	return nil
}
