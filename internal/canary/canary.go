// Package canary stamps a liveness timestamp into <storage>/canary.
package canary

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/hosting/pkg/logging"
)

const (
	// FileName is the marker file name inside the storage directory.
	FileName = "canary"

	// WriteFrequency is the number of ticks between writes.
	WriteFrequency = 20 * 60

	// TimeFormat is a round-trip ISO-8601 layout with 100ns precision.
	TimeFormat = "2006-01-02T15:04:05.0000000Z07:00"
)

// Option configures a Canary.
type Option func(*Canary)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Canary) { c.now = now }
}

// WithLogger sets the logger used for write records.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Canary) { c.logger = logger }
}

// WithObserver registers fn to be called after every successful write.
func WithObserver(fn func(time.Time)) Option {
	return func(c *Canary) { c.observers = append(c.observers, fn) }
}

// Canary rewrites the marker file on creation and every WriteFrequency ticks.
// It is not safe for concurrent use; only the frame loop ticks it.
type Canary struct {
	path      string
	ticks     uint64
	lastWrite time.Time

	now       func() time.Time
	logger    *logging.Logger
	observers []func(time.Time)
}

// New creates a Canary rooted at storageDir and writes the marker immediately.
func New(storageDir string, opts ...Option) (*Canary, error) {
	c := &Canary{
		path:   filepath.Join(storageDir, FileName),
		now:    time.Now,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "canary")

	if err := c.write(); err != nil {
		return nil, err
	}
	return c, nil
}

// Tick counts one frame and rewrites the marker when the count before this
// tick is a multiple of WriteFrequency.
func (c *Canary) Tick() error {
	n := c.ticks
	c.ticks++
	if n%WriteFrequency == 0 {
		return c.write()
	}
	return nil
}

// Path returns the marker file path.
func (c *Canary) Path() string {
	return c.path
}

// Ticks returns how many times Tick has been called.
func (c *Canary) Ticks() uint64 {
	return c.ticks
}

// LastWrite returns the timestamp of the last successful write.
func (c *Canary) LastWrite() time.Time {
	return c.lastWrite
}

func (c *Canary) write() error {
	now := c.now()
	stamp := now.Format(TimeFormat)
	if err := os.WriteFile(c.path, []byte(stamp), 0644); err != nil {
		return fmt.Errorf("failed to write canary %s: %w", c.path, err)
	}
	c.lastWrite = now
	c.logger.Info(stamp)
	for _, fn := range c.observers {
		fn(now)
	}
	return nil
}

// Parse parses the contents of a marker file. Any RFC 3339 fraction length is
// accepted, as is trailing whitespace.
func Parse(data []byte) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
}
