package supervisor

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/hosting/internal/canary"
	"github.com/psantana5/hosting/internal/hostcfg"
	"github.com/psantana5/hosting/internal/markers"
	"github.com/psantana5/hosting/internal/session"
	"github.com/psantana5/hosting/pkg/logging"
)

type harness struct {
	dir    string
	config *hostcfg.Config
	sup    *Supervisor
	writes int
	logs   *bytes.Buffer
	pids   []int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{dir: t.TempDir(), logs: &bytes.Buffer{}, pids: []int{1001, 1002, 1003}}
	logger := logging.NewLogger(logging.INFO, false)
	logger.SetOutput(h.logs)

	h.config = hostcfg.New(h.dir, nil)
	next := 0
	h.sup = New(Options{
		StoragePath: h.dir,
		Config:      h.config,
		Logger:      logger,
		CanaryOptions: []canary.Option{
			canary.WithObserver(func(time.Time) { h.writes++ }),
		},
		PID: func() int {
			pid := h.pids[next%len(h.pids)]
			next++
			return pid
		},
	})
	return h
}

func (h *harness) canaryRecords() int {
	return strings.Count(h.logs.String(), "component=canary")
}

func TestUpdateBeforeLoadedDoesNothing(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, h.sup.Update())
	}
	require.NoError(t, h.sup.OnTransition(session.Loading))
	require.NoError(t, h.sup.Update())

	_, err := os.Stat(filepath.Join(h.dir, canary.FileName))
	assert.True(t, os.IsNotExist(err), "canary must not exist before Loaded")
	assert.Equal(t, 0, h.writes)
	assert.Equal(t, 0, h.canaryRecords())
	assert.False(t, h.sup.Running())
}

func TestLoadedCreatesCanaryAndPID(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.OnTransition(session.Loaded))

	assert.True(t, h.sup.Running())
	assert.Equal(t, 1, h.writes)
	_, err := markers.ReadCanary(h.dir)
	require.NoError(t, err)

	pid, err := markers.ReadPID(h.dir)
	require.NoError(t, err)
	assert.Equal(t, int32(1001), pid)

	// The first Update lands on tick 0 and rewrites.
	require.NoError(t, h.sup.Update())
	assert.Equal(t, 2, h.writes)
	require.NoError(t, h.sup.Update())
	assert.Equal(t, 2, h.writes)
}

func TestReloadReplacesCanary(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.OnTransition(session.Loaded))
	pid, err := markers.ReadPID(h.dir)
	require.NoError(t, err)
	assert.Equal(t, int32(1001), pid)

	require.NoError(t, h.sup.Update())
	first := h.sup.Status()
	require.NoError(t, h.sup.OnTransition(session.Unloading))
	assert.False(t, h.sup.Running())
	assert.Empty(t, h.sup.Status().RunID)

	require.NoError(t, h.sup.OnTransition(session.Loaded))
	second := h.sup.Status()
	pid, err = markers.ReadPID(h.dir)
	require.NoError(t, err)
	assert.Equal(t, int32(1002), pid)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, uint64(1), first.Ticks)
	assert.Equal(t, uint64(0), second.Ticks, "a new Canary starts from zero")
	assert.Equal(t, 1002, second.PID)
}

func TestLoadedTwiceReplaces(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.OnTransition(session.Loaded))
	first := h.sup.Status().RunID
	require.NoError(t, h.sup.OnTransition(session.Loaded))
	second := h.sup.Status().RunID

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, h.writes)
}

func TestUpdateAfterUnloadingDoesNothing(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.sup.OnTransition(session.Loaded))
	require.NoError(t, h.sup.OnTransition(session.Unloading))
	writes, records := h.writes, h.canaryRecords()
	before, err := os.ReadFile(filepath.Join(h.dir, canary.FileName))
	require.NoError(t, err)

	for i := 0; i < 2*canary.WriteFrequency; i++ {
		require.NoError(t, h.sup.Update())
	}
	require.NoError(t, h.sup.OnTransition(session.Unloaded))
	require.NoError(t, h.sup.Update())

	after, err := os.ReadFile(filepath.Join(h.dir, canary.FileName))
	require.NoError(t, err)
	assert.Equal(t, before, after, "marker survives unload untouched")
	assert.Equal(t, writes, h.writes)
	assert.Equal(t, records, h.canaryRecords())
}

func TestDisabledFeatureGatesUpdate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.OnTransition(session.Loaded))
	runID := h.sup.Status().RunID

	h.config.SetEnabled(false)
	for i := 0; i < 3*canary.WriteFrequency; i++ {
		require.NoError(t, h.sup.Update())
	}
	assert.Equal(t, 1, h.writes, "no writes while disabled")
	assert.True(t, h.sup.Running(), "disabling does not stop the session")

	h.config.SetEnabled(true)
	require.NoError(t, h.sup.Update())
	assert.Equal(t, 2, h.writes)
	assert.Equal(t, runID, h.sup.Status().RunID, "the same Canary resumes")
}

func TestLoadedFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.sup.storagePath = filepath.Join(h.dir, "missing")

	err := h.sup.OnTransition(session.Loaded)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, h.sup.Running())
	require.NoError(t, h.sup.Update())
}

func TestUpdatePropagatesTickError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.OnTransition(session.Loaded))

	path := filepath.Join(h.dir, canary.FileName)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0755))

	assert.Error(t, h.sup.Update())
}

func TestStatus(t *testing.T) {
	h := newHarness(t)

	st := h.sup.Status()
	assert.False(t, st.Initialized)
	assert.False(t, st.Running)
	assert.True(t, st.Enabled)
	assert.Empty(t, st.CanaryPath)

	require.NoError(t, h.sup.OnTransition(session.Loaded))
	require.NoError(t, h.sup.Update())

	st = h.sup.Status()
	assert.True(t, st.Running)
	assert.Equal(t, filepath.Join(h.dir, canary.FileName), st.CanaryPath)
	assert.Equal(t, uint64(1), st.Ticks)
	assert.False(t, st.LastWrite.IsZero())
	assert.Equal(t, 1001, st.PID)
}

func TestCanaryLogsCarryRunID(t *testing.T) {
	dir := t.TempDir()
	var logs, stray bytes.Buffer
	logger := logging.NewLogger(logging.INFO, false)
	logger.SetOutput(&logs)
	other := logging.NewLogger(logging.INFO, false)
	other.SetOutput(&stray)

	sup := New(Options{
		StoragePath:   dir,
		Config:        hostcfg.New(dir, nil),
		Logger:        logger,
		CanaryOptions: []canary.Option{canary.WithLogger(other)},
		PID:           func() int { return 1001 },
	})
	require.NoError(t, sup.OnTransition(session.Loaded))

	runID := sup.Status().RunID
	require.NotEmpty(t, runID)
	assert.Contains(t, logs.String(), "component=canary")
	assert.Contains(t, logs.String(), "run_id="+runID)
	assert.Empty(t, stray.String(), "canary records must go through the supervisor logger")
}

func TestInitAndDispose(t *testing.T) {
	h := newHarness(t)
	m := session.NewManager(nil)

	// Dispose before Init is safe.
	h.sup.Dispose()
	assert.False(t, h.sup.Initialized())

	require.NoError(t, h.sup.Init(m))
	assert.True(t, h.sup.Initialized())
	assert.ErrorIs(t, h.sup.Init(m), ErrAlreadyInitialized)

	require.NoError(t, m.Transition(session.Loading))
	require.NoError(t, m.Transition(session.Loaded))
	assert.True(t, h.sup.Running())

	h.sup.Dispose()
	h.sup.Dispose()
	assert.False(t, h.sup.Initialized())
	assert.False(t, h.sup.Running())
	assert.Contains(t, h.logs.String(), "Unloaded Hosting plugin")
	assert.Equal(t, 1, strings.Count(h.logs.String(), "Unloaded Hosting plugin"))

	// Unsubscribed: further transitions no longer reach the supervisor.
	writes := h.writes
	require.NoError(t, m.Transition(session.Loaded))
	assert.Equal(t, writes, h.writes)
	assert.False(t, h.sup.Running())
}

type failingSource struct{}

func (failingSource) Subscribe(session.Listener) (session.Subscription, error) {
	return 0, errors.New("session manager unavailable")
}

func (failingSource) Unsubscribe(session.Subscription) {}

func TestInitFailureLeavesUninitialized(t *testing.T) {
	h := newHarness(t)

	require.Error(t, h.sup.Init(failingSource{}))
	assert.False(t, h.sup.Initialized())
	h.sup.Dispose()
	assert.NotContains(t, h.logs.String(), "Unloaded Hosting plugin")
}

func TestFullSessionThroughManager(t *testing.T) {
	h := newHarness(t)
	m := session.NewManager(nil)
	require.NoError(t, h.sup.Init(m))
	defer h.sup.Dispose()

	for _, s := range []session.State{session.Loading, session.Loaded} {
		require.NoError(t, m.Transition(s))
	}
	for i := 0; i < canary.WriteFrequency+1; i++ {
		require.NoError(t, h.sup.Update())
	}
	assert.Equal(t, 3, h.writes)

	for _, s := range []session.State{session.Unloading, session.Unloaded} {
		require.NoError(t, m.Transition(s))
	}
	require.NoError(t, h.sup.Update())
	assert.Equal(t, 3, h.writes)
}
