package hostcfg

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/hosting/pkg/logging"
)

func newTestConfig(t *testing.T) (*Config, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.DEBUG, false)
	logger.SetOutput(&buf)
	return New(t.TempDir(), logger), &buf
}

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	cfg, logs := newTestConfig(t)

	cfg.Load()

	data, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "<Enabled>true</Enabled>")
	assert.Contains(t, logs.String(), "Missing configuration file")

	// A fresh instance reading the bootstrapped file sees the default.
	other := New(filepath.Dir(cfg.Path()), nil)
	other.SetEnabled(false)
	other.Load()
	assert.Equal(t, DefaultEnabled, other.Enabled())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		dir := t.TempDir()

		cfg := New(dir, nil)
		cfg.SetEnabled(enabled)
		cfg.Save()

		cfg.SetEnabled(!enabled)
		cfg.Load()
		assert.Equal(t, enabled, cfg.Enabled(), "round trip of Enabled=%v", enabled)

		fresh := New(dir, nil)
		fresh.Load()
		assert.Equal(t, enabled, fresh.Enabled())
	}
}

func TestSaveWhileLoadingIsNoop(t *testing.T) {
	cfg, _ := newTestConfig(t)

	cfg.loading.Store(true)
	cfg.Save()
	cfg.loading.Store(false)

	_, err := os.Stat(cfg.Path())
	assert.True(t, os.IsNotExist(err), "expected no config file to be written while loading")
}

func TestLoadClearsGuard(t *testing.T) {
	cfg, _ := newTestConfig(t)
	require.NoError(t, os.WriteFile(cfg.Path(), []byte("garbage"), 0644))

	cfg.Load()
	assert.False(t, cfg.loading.Load(), "loading guard must be cleared after a failed load")

	cfg.SetEnabled(false)
	cfg.Save()
	data, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "<Enabled>false</Enabled>")
}

func TestLoadKeepsStateOnCorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not xml", "this is not xml"},
		{"empty", ""},
		{"type mismatch", `<HostingConfig><Enabled>maybe</Enabled></HostingConfig>`},
		{"wrong root", `<OtherConfig><Enabled>true</Enabled></OtherConfig>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, logs := newTestConfig(t)
			cfg.SetEnabled(false)
			require.NoError(t, os.WriteFile(cfg.Path(), []byte(tt.content), 0644))

			cfg.Load()

			assert.False(t, cfg.Enabled(), "previous in-memory value must survive a failed load")
			assert.Contains(t, logs.String(), "Failed to load configuration file")

			data, err := os.ReadFile(cfg.Path())
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(data), "failed load must not rewrite the file")
		})
	}
}

func TestLoadMissingElementKeepsDefault(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty root", `<HostingConfig></HostingConfig>`},
		{"self-closing root", `<HostingConfig/>`},
		{"namespaced root", `<?xml version="1.0" encoding="utf-8"?>
<HostingConfig xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema">
</HostingConfig>`},
		{"unknown element only", `<HostingConfig><Verbose>true</Verbose></HostingConfig>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, logs := newTestConfig(t)
			cfg.SetEnabled(false)
			require.NoError(t, os.WriteFile(cfg.Path(), []byte(tt.content), 0644))

			cfg.Load()

			assert.True(t, cfg.Enabled(), "missing <Enabled> must load as the default")
			assert.NotContains(t, logs.String(), "Failed to load configuration file")
		})
	}
}

func TestLoadSharesLockWithReaders(t *testing.T) {
	cfg, _ := newTestConfig(t)
	cfg.SetEnabled(false)
	cfg.Save()

	reader := flock.New(cfg.Path() + ".lock")
	require.NoError(t, reader.RLock())
	defer reader.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		cfg.SetEnabled(true)
		cfg.Load()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Load blocked behind another reader")
	}
	assert.False(t, cfg.Enabled())
}

func TestLoadWaitsForWriter(t *testing.T) {
	cfg, _ := newTestConfig(t)
	cfg.Save()

	writer := flock.New(cfg.Path() + ".lock")
	require.NoError(t, writer.Lock())

	done := make(chan struct{})
	go func() {
		defer close(done)
		cfg.Load()
	}()

	select {
	case <-done:
		writer.Unlock()
		t.Fatal("Load did not wait for the exclusive lock")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, writer.Unlock())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Load did not finish after the writer released the lock")
	}
}

func TestSaveFailureIsLoggedNotFatal(t *testing.T) {
	dir := t.TempDir()
	// A directory where the config file should be makes the rename fail.
	blocked := filepath.Join(dir, FileName)
	require.NoError(t, os.Mkdir(blocked, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "keep"), nil, 0644))

	var buf bytes.Buffer
	logger := logging.NewLogger(logging.DEBUG, false)
	logger.SetOutput(&buf)
	cfg := New(dir, logger)

	cfg.SetEnabled(false)
	cfg.Save()

	assert.False(t, cfg.Enabled())
	assert.Contains(t, buf.String(), "Failed to save configuration file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file %s left behind", e.Name())
	}
}

func TestSetEnabledNotifiesWithoutSaving(t *testing.T) {
	cfg, _ := newTestConfig(t)

	var changed []string
	cfg.OnChange(func(property string) { changed = append(changed, property) })

	cfg.SetEnabled(false)

	assert.Equal(t, []string{PropertyEnabled}, changed)
	_, err := os.Stat(cfg.Path())
	assert.True(t, os.IsNotExist(err), "setter must not persist")
}

func TestConcurrentLoadSave(t *testing.T) {
	cfg, _ := newTestConfig(t)
	cfg.Load()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cfg.Save()
		}()
		go func() {
			defer wg.Done()
			cfg.Load()
		}()
	}
	wg.Wait()

	fresh := New(filepath.Dir(cfg.Path()), nil)
	fresh.SetEnabled(false)
	fresh.Load()
	assert.True(t, fresh.Enabled(), "file must remain a valid document after concurrent access")
}
