// Package ux implements the device's UX attention state: the
// device's current visible/audible attention mode, driven by the
// SetAttentionState directive and read back through Current (the
// device exposes the Manager to the application shell; no other
// manager, internal/microphone included, reads it). Grounded on internal/clock's
// "small atomic-backed state holder behind a directive handler" shape.
package ux

import (
	"encoding/json"
	"sync"
)

// State is one of the closed set of attention states SetAttentionState
// carries.
type State string

const (
	Idle                  State = "IDLE"
	Thinking              State = "THINKING"
	Speaking              State = "SPEAKING"
	Alerting              State = "ALERTING"
	NotificationAvailable State = "NOTIFICATION_AVAILABLE"
	DoNotDisturb          State = "DO_NOT_DISTURB"
)

// Manager holds the device's current attention state.
type Manager struct {
	mu     sync.Mutex
	state  State
	offset uint64
}

// New creates a Manager starting in Idle.
func New() *Manager {
	return &Manager{state: Idle}
}

// Current returns the current state and the offset it was last set
// with.
func (m *Manager) Current() (State, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.offset
}

// SetState installs state as current.
func (m *Manager) SetState(state State, offset uint64) {
	m.mu.Lock()
	m.state = state
	m.offset = offset
	m.mu.Unlock()
}

// OnSetAttentionState is the directive.Handler for SetAttentionState.
func (m *Manager) OnSetAttentionState(payload json.RawMessage, seq, index uint32) error {
	var p struct {
		State  string `json:"state"`
		Offset uint64 `json:"offset"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	m.SetState(State(p.State), p.Offset)
	return nil
}
