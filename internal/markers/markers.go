// Package markers reads and writes the small files external supervisors
// inspect: the canary timestamp and the pid of the hosting process.
package markers

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/psantana5/hosting/internal/canary"
)

// PIDFileName is the pid marker file name inside the storage directory.
const PIDFileName = "pid"

// ProcessInfo describes a process named by the pid marker.
type ProcessInfo struct {
	PID       int32
	Name      string
	StartedAt time.Time
}

// WritePID overwrites <dir>/pid with pid in decimal.
func WritePID(dir string, pid int) error {
	path := filepath.Join(dir, PIDFileName)
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write pid file %s: %w", path, err)
	}
	return nil
}

// ReadPID reads <dir>/pid.
func ReadPID(dir string) (int32, error) {
	data, err := os.ReadFile(filepath.Join(dir, PIDFileName))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid pid file: %w", err)
	}
	return int32(pid), nil
}

// ReadCanary reads and parses <dir>/canary.
func ReadCanary(dir string) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(dir, canary.FileName))
	if err != nil {
		return time.Time{}, err
	}
	stamp, err := canary.Parse(data)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid canary file: %w", err)
	}
	return stamp, nil
}

// CanaryAge returns how long ago the canary was last stamped, relative to now.
func CanaryAge(dir string, now time.Time) (time.Duration, error) {
	stamp, err := ReadCanary(dir)
	if err != nil {
		return 0, err
	}
	return now.Sub(stamp), nil
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(pid)
	return err == nil && ok
}

// Inspect looks up name and start time of pid. Fields that cannot be read are
// left zero.
func Inspect(pid int32) (ProcessInfo, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("process %d: %w", pid, err)
	}
	info := ProcessInfo{PID: pid}
	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if ms, err := p.CreateTime(); err == nil {
		info.StartedAt = time.UnixMilli(ms)
	}
	return info, nil
}

// Running reads the pid marker and reports whether that process is alive.
func Running(dir string) (int32, bool) {
	pid, err := ReadPID(dir)
	if err != nil {
		return 0, false
	}
	return pid, Alive(pid)
}
