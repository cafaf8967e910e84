// Package supervisor drives the canary from host session transitions.
//
// On every Loaded transition a fresh Canary is created under the storage
// path and the pid marker is rewritten. Unloading drops the Canary. Update,
// called once per host frame, ticks the Canary only while a session is
// loaded and the feature is enabled.
package supervisor

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/hosting/internal/canary"
	"github.com/psantana5/hosting/internal/markers"
	"github.com/psantana5/hosting/internal/session"
	"github.com/psantana5/hosting/pkg/logging"
)

// PluginName is used in log records.
const PluginName = "Hosting"

// ErrAlreadyInitialized is returned by Init when called twice.
var ErrAlreadyInitialized = errors.New("supervisor: already initialized")

// FeatureToggle reports whether canary writes are enabled.
type FeatureToggle interface {
	Enabled() bool
}

// Options configures a Supervisor.
type Options struct {
	// StoragePath is the directory holding the canary and pid markers.
	StoragePath string
	// Config gates Update. Required.
	Config FeatureToggle
	Logger *logging.Logger
	// CanaryOptions are applied to every Canary the supervisor creates. The
	// canary always logs through Logger tagged with the run id, so a
	// WithLogger here has no effect.
	CanaryOptions []canary.Option
	// PID overrides os.Getpid.
	PID func() int
}

// run is everything created by one Loaded transition.
type run struct {
	id     string
	pid    int
	canary *canary.Canary
}

// Supervisor owns the Canary lifetime.
type Supervisor struct {
	storagePath string
	config      FeatureToggle
	logger      *logging.Logger
	canaryOpts  []canary.Option
	pid         func() int

	mu     sync.Mutex
	source session.Source
	sub    session.Subscription

	running atomic.Bool
	current atomic.Pointer[run]
}

// New returns an uninitialized Supervisor.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	pid := opts.PID
	if pid == nil {
		pid = os.Getpid
	}
	return &Supervisor{
		storagePath: opts.StoragePath,
		config:      opts.Config,
		logger:      logger.WithField("component", "supervisor"),
		canaryOpts:  opts.CanaryOptions,
		pid:         pid,
	}
}

// Init subscribes to session transitions.
func (s *Supervisor) Init(source session.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil {
		return ErrAlreadyInitialized
	}
	sub, err := source.Subscribe(s)
	if err != nil {
		return err
	}
	s.source = source
	s.sub = sub

	s.logger.Info("Loaded " + PluginName + " plugin")
	return nil
}

// Initialized reports whether Init subscribed successfully and Dispose has
// not run since.
func (s *Supervisor) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source != nil
}

// Dispose unsubscribes and drops all held references. It is a no-op when
// the supervisor was never initialized or is already disposed.
func (s *Supervisor) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil {
		return
	}

	s.logger.Info("Unloaded " + PluginName + " plugin")

	s.source.Unsubscribe(s.sub)
	s.source = nil
	s.sub = 0

	s.running.Store(false)
	s.current.Store(nil)
}

// OnTransition reacts to a session state change. A failure to create the
// Canary or write the pid marker on Loaded is returned and leaves the
// supervisor not running.
func (s *Supervisor) OnTransition(state session.State) error {
	switch state {
	case session.Loaded:
		return s.load()
	case session.Unloading:
		s.running.Store(false)
		s.current.Store(nil)
	case session.Loading, session.Unloaded:
	}
	return nil
}

func (s *Supervisor) load() error {
	// Any previous run is replaced, never merged.
	s.running.Store(false)
	s.current.Store(nil)

	r := &run{id: uuid.NewString(), pid: s.pid()}
	logger := s.logger.WithField("run_id", r.id)

	opts := make([]canary.Option, 0, len(s.canaryOpts)+1)
	opts = append(opts, s.canaryOpts...)
	opts = append(opts, canary.WithLogger(logger))

	c, err := canary.New(s.storagePath, opts...)
	if err != nil {
		return err
	}
	r.canary = c

	if err := markers.WritePID(s.storagePath, r.pid); err != nil {
		return err
	}
	s.logPID(logger, r.pid)

	s.current.Store(r)
	s.running.Store(true)
	return nil
}

func (s *Supervisor) logPID(logger *logging.Logger, pid int) {
	fields := map[string]interface{}{"pid": pid}
	if info, err := markers.Inspect(int32(pid)); err == nil {
		if info.Name != "" {
			fields["process"] = info.Name
		}
		if !info.StartedAt.IsZero() {
			fields["started_at"] = info.StartedAt.Format(time.RFC3339)
		}
	}
	logger.Info("PID written", fields)
}

// Update is called once per host frame. It ticks the Canary only while a
// session is loaded and the feature is enabled; Canary write errors are
// returned to the caller.
func (s *Supervisor) Update() error {
	if !s.running.Load() {
		return nil
	}
	if !s.config.Enabled() {
		return nil
	}
	r := s.current.Load()
	if r == nil {
		return nil
	}
	return r.canary.Tick()
}

// Running reports whether a session is loaded with a live Canary.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Initialized bool
	Running     bool
	Enabled     bool
	RunID       string
	PID         int
	CanaryPath  string
	Ticks       uint64
	LastWrite   time.Time
}

// Status returns a snapshot. Call it from the goroutine that calls Update;
// the Canary's counters are not synchronized.
func (s *Supervisor) Status() Status {
	st := Status{
		Initialized: s.Initialized(),
		Running:     s.running.Load(),
		Enabled:     s.config.Enabled(),
	}
	if r := s.current.Load(); r != nil {
		st.RunID = r.id
		st.PID = r.pid
		st.CanaryPath = r.canary.Path()
		st.Ticks = r.canary.Ticks()
		st.LastWrite = r.canary.LastWrite()
	}
	return st
}
