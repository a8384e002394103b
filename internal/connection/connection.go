// Package connection implements the connection state machine,
// consuming connection_from_service acknowledge/disconnect
// codes and driving the Idle -> Connecting -> Established -> Disconnected
// progression the rest of the device (capabilities publish, the
// Regulators) gates on. Grounded on the request/response message-name
// switch in server/internal/ws/handler.go, generalized from a single
// websocket session's lifecycle to this protocol's two message names
// (Connected, Disconnect) distinguished by an AcknowledgeCode/DisconnectCode
// payload field.
package connection

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// State is one of the closed connection lifecycle states.
type State int

const (
	Idle State = iota
	Connecting
	Established
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// AcknowledgeCode is one of the codes a Connected message may carry.
type AcknowledgeCode string

const (
	ConnectionEstablished AcknowledgeCode = "CONNECTION_ESTABLISHED"
	InvalidAccountID      AcknowledgeCode = "INVALID_ACCOUNT_ID"
	InvalidClientID       AcknowledgeCode = "INVALID_CLIENT_ID"
	AckAPIVersionDeprecated AcknowledgeCode = "API_VERSION_DEPRECATED"
	UnknownFailure        AcknowledgeCode = "UNKNOWN_FAILURE"
)

// DisconnectCode is one of the codes a Disconnect message may carry.
type DisconnectCode string

const (
	UnexpectedSequenceNumber  DisconnectCode = "UNEXPECTED_SEQUENCE_NUMBER"
	MessageTampered           DisconnectCode = "MESSAGE_TAMPERED"
	DisconnectAPIVersionDeprecated DisconnectCode = "API_VERSION_DEPRECATED"
	EncryptionError           DisconnectCode = "ENCRYPTION_ERROR"
	GoingOffline              DisconnectCode = "GOING_OFFLINE"
)

// OnEstablished is invoked once the state transitions to Established,
// e.g. to trigger the capabilities-publish handshake.
type OnEstablished func()

// Manager tracks connection lifecycle state.
type Manager struct {
	logger        *slog.Logger
	onEstablished OnEstablished

	mu    sync.Mutex
	state State
}

// New creates a Manager starting in Idle.
func New(onEstablished OnEstablished, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, onEstablished: onEstablished, state: Idle}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginConnecting transitions Idle/Disconnected -> Connecting, e.g.
// immediately after publishing connection_from_client.
func (m *Manager) BeginConnecting() {
	m.mu.Lock()
	m.state = Connecting
	m.mu.Unlock()
}

// OnConnectionMessage is the dispatcher.ConnectionHandler for the
// connection_from_service topic: name selects between the "Connected"
// acknowledge message and the "Disconnect" message.
func (m *Manager) OnConnectionMessage(name string, payload json.RawMessage) {
	switch name {
	case "Connected":
		m.onConnected(payload)
	case "Disconnect":
		m.onDisconnect(payload)
	default:
		m.logger.Debug("connection: unrecognized connection_from_service message", "name", name)
	}
}

func (m *Manager) onConnected(payload json.RawMessage) {
	var p struct {
		Code AcknowledgeCode `json:"code"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		m.logger.Warn("connection: malformed Connected payload", "err", err)
		return
	}

	m.mu.Lock()
	if p.Code == ConnectionEstablished {
		m.state = Established
	} else {
		m.state = Disconnected
	}
	established := m.state == Established
	m.mu.Unlock()

	m.logger.Info("connection: acknowledge received", "code", p.Code)
	if established && m.onEstablished != nil {
		m.onEstablished()
	}
}

func (m *Manager) onDisconnect(payload json.RawMessage) {
	var p struct {
		Code DisconnectCode `json:"code"`
	}
	_ = json.Unmarshal(payload, &p)

	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()

	m.logger.Info("connection: disconnected by service", "code", p.Code)
}
