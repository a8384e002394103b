// Package capabilities implements the capabilities handshake: a static
// description of what this device can do, published once to
// capabilities_publish after the connection reaches Established.
// Grounded on internal/exception's "build one payload, queue it onto a
// Sink" shape; capabilities_publish is one of the two outbound topics
// left unencrypted. internal/device wires this Sink to its own Trickle
// Regulator with a zero minimum wait, separate from the event topic's.
package capabilities

import (
	"encoding/json"
	"log/slog"

	"github.com/aia-voice/deviceclient/internal/idgen"
	"github.com/aia-voice/deviceclient/internal/message"
)

// Descriptor describes one capability this device offers.
type Descriptor struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Set is the static list of capabilities this device offers.
var Set = []Descriptor{
	{Name: "speaker", Version: 1},
	{Name: "microphone", Version: 1},
	{Name: "alerts", Version: 1},
	{Name: "clock", Version: 1},
}

// Sink accepts the capabilities_publish chunk.
type Sink interface {
	Write(chunk message.Chunk) (bool, error)
}

// Manager publishes the device's capability set once per connection.
type Manager struct {
	sink   Sink
	logger *slog.Logger
}

// New creates a Manager that publishes through sink.
func New(sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{sink: sink, logger: logger}
}

// Publish queues the static capability set as one capabilities_publish
// message. Intended to be wired as the connection manager's
// OnEstablished callback.
func (m *Manager) Publish() {
	body, err := json.Marshal(struct {
		Capabilities []Descriptor `json:"capabilities"`
	}{Capabilities: Set})
	if err != nil {
		m.logger.Error("capabilities: marshal failed", "err", err)
		return
	}
	msg := &message.JSON{Name: "CapabilitiesPublish", MessageID: idgen.New(), Payload: body}
	if _, err := m.sink.Write(message.NewChunk(msg)); err != nil {
		m.logger.Warn("capabilities: failed to queue publish", "err", err)
	}
}
