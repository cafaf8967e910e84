// Package daemon hosts the supervisor in a standalone process: it owns the
// frame loop, the session lifecycle and the operator console.
package daemon

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/hosting/internal/metrics"
)

// Settings are the daemon's own settings. The feature toggle lives in
// Hosting.cfg, not here.
type Settings struct {
	StoragePath     string        `mapstructure:"storage_path"`
	TickRate        int           `mapstructure:"tick_rate"`
	LogLevel        string        `mapstructure:"log_level"`
	LogJSON         bool          `mapstructure:"log_json"`
	LogToFile       bool          `mapstructure:"log_to_file"`
	MetricsTextfile string        `mapstructure:"metrics_textfile"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Console         bool          `mapstructure:"console"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage_path", "./data")
	v.SetDefault("tick_rate", 60)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("log_to_file", true)
	v.SetDefault("metrics_textfile", metrics.TextfileName)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("console", true)
}

// LoadSettings decodes and validates settings from v.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks ranges and fills derived paths.
func (s *Settings) Validate() error {
	if s.StoragePath == "" {
		return fmt.Errorf("storage_path must not be empty")
	}
	if s.TickRate < 1 || s.TickRate > 1000 {
		return fmt.Errorf("tick_rate must be between 1 and 1000, got %d", s.TickRate)
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", s.ShutdownTimeout)
	}
	return nil
}

// FrameInterval is the time between two Update calls.
func (s *Settings) FrameInterval() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}

// MetricsPath resolves the textfile path; relative names live in the storage
// directory. Empty disables the textfile.
func (s *Settings) MetricsPath() string {
	if s.MetricsTextfile == "" || filepath.IsAbs(s.MetricsTextfile) {
		return s.MetricsTextfile
	}
	return filepath.Join(s.StoragePath, s.MetricsTextfile)
}

// LogDir is where the file logger writes.
func (s *Settings) LogDir() string {
	return filepath.Join(s.StoragePath, "logs")
}
