package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/psantana5/hosting/pkg/logging"
)

// Listener receives session state transitions.
type Listener interface {
	OnTransition(state State) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(State) error

// OnTransition calls f(state).
func (f ListenerFunc) OnTransition(state State) error { return f(state) }

// Subscription identifies a registered listener.
type Subscription uint64

// Source is the subscribe side of the host's session notifications.
type Source interface {
	Subscribe(l Listener) (Subscription, error)
	Unsubscribe(sub Subscription)
}

// ErrNilListener is returned when subscribing a nil listener.
var ErrNilListener = errors.New("session: nil listener")

type entry struct {
	id       Subscription
	listener Listener
}

// Manager tracks the current session state and dispatches transitions to
// listeners in subscription order.
type Manager struct {
	logger *logging.Logger

	mu      sync.Mutex
	state   State
	nextID  Subscription
	entries []entry

	// dispatchMu keeps transitions from interleaving.
	dispatchMu sync.Mutex
}

// NewManager returns a Manager in the Unloaded state.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{logger: logger.WithField("component", "session")}
}

// Subscribe registers l for future transitions.
func (m *Manager) Subscribe(l Listener) (Subscription, error) {
	if l == nil {
		return 0, ErrNilListener
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.entries = append(m.entries, entry{id: m.nextID, listener: l})
	return m.nextID, nil
}

// Unsubscribe removes a listener. Unknown subscriptions are ignored.
func (m *Manager) Unsubscribe(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.id == sub {
			m.entries = append(m.entries[:i:i], m.entries[i+1:]...)
			return
		}
	}
}

// State returns the last dispatched state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to state and notifies every listener. Transitions outside
// the normal cycle are logged but still delivered. Listener errors are joined.
func (m *Manager) Transition(state State) error {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	from := m.state
	m.state = state
	listeners := make([]entry, len(m.entries))
	copy(listeners, m.entries)
	m.mu.Unlock()

	fields := map[string]interface{}{"from": from.String(), "to": state.String()}
	if IsExpectedTransition(from, state) {
		m.logger.Debug("Session state changed", fields)
	} else {
		m.logger.Warn("Unexpected session state transition", fields)
	}

	var errs []error
	for _, e := range listeners {
		if err := e.listener.OnTransition(state); err != nil {
			errs = append(errs, fmt.Errorf("listener %d on %s: %w", e.id, state, err))
		}
	}
	return errors.Join(errs...)
}
