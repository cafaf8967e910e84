// Package hostcfg persists the hosting feature toggle in Hosting.cfg.
package hostcfg

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/psantana5/hosting/pkg/logging"
)

const (
	// FileName is the config file name inside the storage directory.
	FileName = "Hosting.cfg"

	// DefaultEnabled is written when no config file exists yet.
	DefaultEnabled = true

	// PropertyEnabled is the property name passed to change listeners.
	PropertyEnabled = "Enabled"
)

// document is the on-disk XML shape.
type document struct {
	XMLName xml.Name `xml:"HostingConfig"`
	Enabled bool     `xml:"Enabled"`
}

// Config is the process-wide hosting configuration. Construct one with New and
// pass it to whatever needs it.
//
// Load and Save are serialized by an instance mutex and, across processes, by
// an flock on Hosting.cfg.lock. Mutating a property never persists it; callers
// decide when to Save.
type Config struct {
	path   string
	lock   *flock.Flock
	logger *logging.Logger

	mu      sync.Mutex
	loading atomic.Bool
	enabled atomic.Bool

	listenersMu sync.Mutex
	listeners   []func(property string)
}

// New returns a Config backed by <storageDir>/Hosting.cfg holding defaults.
// Nothing is read until Load is called.
func New(storageDir string, logger *logging.Logger) *Config {
	if logger == nil {
		logger = logging.Discard()
	}
	path := filepath.Join(storageDir, FileName)
	c := &Config{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger.WithField("component", "config"),
	}
	c.enabled.Store(DefaultEnabled)
	c.OnChange(c.onPropertyChanged)
	return c
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Enabled reports whether the hosting feature is on.
func (c *Config) Enabled() bool {
	return c.enabled.Load()
}

// SetEnabled updates the in-memory value and notifies change listeners.
func (c *Config) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
	c.notify(PropertyEnabled)
}

// OnChange registers fn to be called after a property changes.
func (c *Config) OnChange(fn func(property string)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Config) notify(property string) {
	c.listenersMu.Lock()
	listeners := make([]func(string), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(property)
	}
}

// onPropertyChanged deliberately does not save. Saving synchronously from a
// change callback raced a previous writer still closing the file.
// TODO: persist changes through a deferred write queue instead of relying on
// callers to invoke Save.
func (c *Config) onPropertyChanged(property string) {}

// Save writes the current state to disk. It does nothing while Load is in
// progress. Failures are logged; the in-memory state stays authoritative.
func (c *Config) Save() {
	if c.loading.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.withFileLock(c.unsafeSave); err != nil {
		c.logger.Error("Failed to save configuration file", map[string]interface{}{
			"path":  c.path,
			"error": err.Error(),
		})
	}
}

// Load reads the config file. A missing file is created from the current
// in-memory values. On any failure the previous values are kept.
func (c *Config) Load() {
	c.loading.Store(true)
	defer c.loading.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if _, statErr := os.Stat(c.path); os.IsNotExist(statErr) {
		err = c.withFileLock(c.bootstrap)
	} else {
		err = c.withSharedFileLock(c.unsafeLoad)
	}
	if err != nil {
		c.logger.Error("Failed to load configuration file", map[string]interface{}{
			"path":  c.path,
			"error": err.Error(),
		})
	}
}

// bootstrap writes the defaults unless another process created the file
// while we waited for the exclusive lock.
func (c *Config) bootstrap() error {
	if _, err := os.Stat(c.path); err == nil {
		return c.unsafeLoad()
	}
	c.logger.Warn("Missing configuration file. Saving default one", map[string]interface{}{"path": c.path})
	return c.unsafeSave()
}

// withFileLock runs fn under the exclusive cross-process lock.
func (c *Config) withFileLock(fn func() error) error {
	return c.locked(c.lock.Lock, fn)
}

// withSharedFileLock runs fn under the shared lock; readers do not block
// each other, only writers.
func (c *Config) withSharedFileLock(fn func() error) error {
	return c.locked(c.lock.RLock, fn)
}

func (c *Config) locked(acquire func() error, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := acquire(); err != nil {
		return fmt.Errorf("failed to lock configuration file: %w", err)
	}
	defer c.lock.Unlock()
	return fn()
}

func (c *Config) unsafeSave() error {
	data, err := xml.MarshalIndent(document{Enabled: c.enabled.Load()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	data = append(data, '\n')

	// Write to a temp file and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(c.path), FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (c *Config) unsafeLoad() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	// Elements missing from the file keep their defaults.
	doc := document{Enabled: DefaultEnabled}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to deserialize configuration file: %w", err)
	}

	c.enabled.Store(doc.Enabled)
	return nil
}
