// Package emitter turns a batch of Regulator chunks for one outbound
// topic into a single MQTT publish, encrypted where the topic requires
// it.
package emitter

import (
	"log/slog"
	"sync/atomic"

	"github.com/aia-voice/deviceclient/internal/frame"
	"github.com/aia-voice/deviceclient/internal/message"
	"github.com/aia-voice/deviceclient/internal/topic"
)

// SecretManager is the subset of the secret manager the emitter needs.
// Encrypt returns ciphertext, a fresh IV, and an auth tag for topic at seq.
type SecretManager interface {
	Encrypt(t topic.Topic, seq uint32, plaintext []byte) (ciphertext, iv, tag []byte, err error)
}

// PublishFunc publishes one MQTT message at QoS 0 with retain=false.
type PublishFunc func(topicSuffix string, payload []byte) error

// Config configures one topic's Emitter.
type Config struct {
	Topic topic.Topic
	// ArrayName is the JSON envelope array name ("directives", "events").
	// Leave empty for topics that never wrap multiple messages in an
	// envelope (connection_from_client, capabilities_publish): those
	// topics are expected to emit exactly one JSON message per batch.
	ArrayName      string
	MaxMessageSize int
}

// Emitter assembles chunks for one outbound topic into encrypted frames.
type Emitter struct {
	cfg     Config
	publish PublishFunc
	secrets SecretManager
	logger  *slog.Logger

	seq atomic.Uint32

	// in-progress frame assembly state; only touched from EmitChunk calls,
	// which the Regulator serializes per topic (one batch in flight).
	parts [][]byte
	size  int
}

// New creates an Emitter for one outbound topic.
func New(cfg Config, publish PublishFunc, secrets SecretManager, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{cfg: cfg, publish: publish, secrets: secrets, logger: logger}
}

// NextSeq atomically allocates and returns the next outbound sequence
// number. Safe to call independently of EmitChunk, without holding any
// emit-path lock. The secret manager does not call it; it reads the
// counter through PeekNextSeq, which allocates nothing.
func (e *Emitter) NextSeq() uint32 {
	return e.seq.Add(1) - 1
}

// PeekNextSeq returns the next sequence number that NextSeq would allocate,
// without consuming it. Used by the secret manager to choose an outbound
// rotation boundary no earlier than what is still unsent.
func (e *Emitter) PeekNextSeq() uint32 {
	return e.seq.Load()
}

// EmitChunk is the Regulator's emission callback for this topic.
func (e *Emitter) EmitChunk(chunk message.Chunk, remainingBytes, remainingChunks int) bool {
	body, err := chunk.Msg.Marshal()
	if err != nil {
		e.logger.Error("emitter: marshal chunk failed", "topic", e.cfg.Topic, "err", err)
		e.parts = nil
		e.size = 0
		return false
	}

	if e.size+len(body) > e.cfg.MaxMessageSize {
		e.logger.Warn("emitter: batch would exceed max message size", "topic", e.cfg.Topic)
		e.parts = nil
		e.size = 0
		return false
	}

	e.parts = append(e.parts, body)
	e.size += len(body)

	if remainingBytes != 0 || remainingChunks != 0 {
		return true
	}

	return e.flush()
}

// flush assembles the accumulated parts into a frame, encrypts if the
// topic requires it, and publishes. Always clears the in-progress state.
func (e *Emitter) flush() bool {
	parts := e.parts
	e.parts = nil
	e.size = 0

	attrs := e.cfg.Topic.Attributes()
	var body []byte
	switch attrs.Kind {
	case topic.BinaryKind:
		for _, p := range parts {
			body = append(body, p...)
		}
	case topic.JSONKind:
		if e.cfg.ArrayName != "" {
			body = message.JoinJSONArray(e.cfg.ArrayName, parts)
		} else if len(parts) == 1 {
			body = parts[0]
		} else {
			for _, p := range parts {
				body = append(body, p...)
			}
		}
	}

	if !attrs.Encrypted {
		if err := e.publish(attrs.Suffix, body); err != nil {
			e.logger.Warn("emitter: publish failed", "topic", e.cfg.Topic, "err", err)
			return false
		}
		return true
	}

	seq := e.NextSeq()
	ciphertext, iv, tag, err := e.secrets.Encrypt(e.cfg.Topic, seq, body)
	if err != nil {
		e.logger.Error("emitter: encrypt failed", "topic", e.cfg.Topic, "seq", seq, "err", err)
		return false
	}

	wire := frame.Encode(seq, iv, ciphertext, tag)

	if err := e.publish(attrs.Suffix, wire); err != nil {
		e.logger.Warn("emitter: publish failed", "topic", e.cfg.Topic, "seq", seq, "err", err)
		return false
	}
	return true
}
