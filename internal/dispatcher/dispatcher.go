// Package dispatcher routes an inbound MQTT message to the right
// handling path based on which topic it arrived on, decrypting and
// reordering as each topic requires before handing payloads to the
// directive registry or the speaker manager. Modeled on
// server/internal/ws/handler.go's topic-to-handler dispatch,
// generalized from a single websocket message type switch to MQTT topic
// suffix matching.
package dispatcher

import (
	"encoding/json"
	"log/slog"

	"github.com/aia-voice/deviceclient/internal/directive"
	"github.com/aia-voice/deviceclient/internal/frame"
	"github.com/aia-voice/deviceclient/internal/message"
	"github.com/aia-voice/deviceclient/internal/sequencer"
	"github.com/aia-voice/deviceclient/internal/topic"
)

// Decrypter is the subset of the secret manager the dispatcher needs.
type Decrypter interface {
	Decrypt(t topic.Topic, seq uint32, iv, ciphertext, tag []byte) ([]byte, error)
}

// Reporter surfaces dispatch-level protocol problems as exception events.
type Reporter interface {
	UnsupportedAPI(name, topic string, seq, index uint32)
	MalformedMessage(detail, topic string, seq, index uint32)
}

// ConnectionHandler processes a connection_from_service message. name is
// the message header's name (e.g. "Connected", "Disconnect").
type ConnectionHandler func(name string, payload json.RawMessage)

// CapabilitiesAckHandler processes the (unencrypted-at-the-dispatch-layer)
// capabilities acknowledgment payload.
type CapabilitiesAckHandler func(payload []byte)

// SpeakerHandler processes one in-order binary speaker frame. index is
// this frame's position since the speaker stream last resumed from a gap.
type SpeakerHandler func(rec *message.Binary, seq uint32, index uint32)

// Config wires the Dispatcher's collaborators.
type Config struct {
	Decrypter         Decrypter
	Registry          *directive.Registry
	Reporter          Reporter
	ConnectionHandler ConnectionHandler
	CapabilitiesAck   CapabilitiesAckHandler
	SpeakerHandler    SpeakerHandler

	DirectiveSequencer *sequencer.Sequencer
	SpeakerSequencer   *sequencer.Sequencer
}

// Dispatcher routes inbound MQTT messages by topic.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg, logger: logger}
}

// SetDirectiveSequencer installs the sequencer that feeds OnDirectiveFrame.
// Split from Config because the sequencer's EmitFunc must reference this
// Dispatcher, so it can only be built after the Dispatcher exists.
func (d *Dispatcher) SetDirectiveSequencer(s *sequencer.Sequencer) {
	d.cfg.DirectiveSequencer = s
}

// SetSpeakerSequencer installs the sequencer that feeds OnSpeakerFrame.
func (d *Dispatcher) SetSpeakerSequencer(s *sequencer.Sequencer) {
	d.cfg.SpeakerSequencer = s
}

// OnMessage routes one inbound MQTT publish. fullTopic is the complete
// topic string as delivered by the broker; unrecognized topics are
// silently dropped.
func (d *Dispatcher) OnMessage(fullTopic string, payload []byte) {
	t, ok := topic.Match(fullTopic)
	if !ok {
		d.logger.Debug("dispatcher: dropping message on unrecognized topic", "topic", fullTopic)
		return
	}

	switch t {
	case topic.ConnectionFromService:
		d.handleConnection(payload)
	case topic.CapabilitiesAcknowledge:
		d.handleCapabilitiesAck(payload)
	case topic.Directive:
		d.handleEncryptedFrame(t, payload, d.cfg.DirectiveSequencer)
	case topic.Speaker:
		d.handleEncryptedFrame(t, payload, d.cfg.SpeakerSequencer)
	default:
		d.logger.Debug("dispatcher: no inbound handling for topic", "topic", t)
	}
}

func (d *Dispatcher) handleConnection(payload []byte) {
	msg, err := message.ParseJSON(payload)
	if err != nil {
		if d.cfg.Reporter != nil {
			d.cfg.Reporter.MalformedMessage("connection_from_service: "+err.Error(), topic.ConnectionFromService.String(), 0, 0)
		}
		return
	}
	if d.cfg.ConnectionHandler != nil {
		d.cfg.ConnectionHandler(msg.Name, msg.Payload)
	}
}

func (d *Dispatcher) handleCapabilitiesAck(payload []byte) {
	if d.cfg.CapabilitiesAck != nil {
		d.cfg.CapabilitiesAck(payload)
	}
}

// handleEncryptedFrame decrypts one frame for t and feeds the resulting
// plaintext into seq, which drives the rest of the handling (directive
// element dispatch or speaker frame delivery) through the callbacks the
// Dispatcher was configured with.
func (d *Dispatcher) handleEncryptedFrame(t topic.Topic, wire []byte, seq *sequencer.Sequencer) {
	num, iv, ciphertext, tag, err := frame.Decode(wire)
	if err != nil {
		if d.cfg.Reporter != nil {
			d.cfg.Reporter.MalformedMessage("truncated frame on "+t.String(), t.String(), 0, 0)
		}
		return
	}
	plaintext, err := d.cfg.Decrypter.Decrypt(t, num, iv, ciphertext, tag)
	if err != nil {
		d.logger.Warn("dispatcher: decrypt failed", "topic", t, "seq", num, "err", err)
		if d.cfg.Reporter != nil {
			d.cfg.Reporter.MalformedMessage("decrypt failed on "+t.String(), t.String(), num, 0)
		}
		return
	}

	if err := seq.Write(plaintext, num); err != nil {
		d.logger.Warn("dispatcher: sequence number out of window", "topic", t, "seq", num, "err", err)
		if d.cfg.Reporter != nil {
			d.cfg.Reporter.MalformedMessage("sequence number out of window on "+t.String(), t.String(), num, 0)
		}
	}
}

// OnDirectiveFrame is the Sequencer EmitFunc for the directive topic: it
// unpacks the directive envelope and dispatches each element.
func (d *Dispatcher) OnDirectiveFrame(plaintext []byte, seq uint32, index uint32) {
	elems, err := message.ParseJSONArray("directives", plaintext)
	if err != nil {
		if d.cfg.Reporter != nil {
			d.cfg.Reporter.MalformedMessage("directive envelope: "+err.Error(), topic.Directive.String(), seq, 0)
		}
		return
	}
	for i, raw := range elems {
		msg, err := message.ParseJSON(raw)
		if err != nil {
			if d.cfg.Reporter != nil {
				d.cfg.Reporter.MalformedMessage("directive element: "+err.Error(), topic.Directive.String(), seq, uint32(i))
			}
			continue
		}
		name := directive.Name(msg.Name)
		err = d.cfg.Registry.Dispatch(name, msg.Payload, seq, uint32(i))
		if err == directive.ErrUnsupported {
			if d.cfg.Reporter != nil {
				d.cfg.Reporter.UnsupportedAPI(msg.Name, topic.Directive.String(), seq, uint32(i))
			}
		} else if err != nil {
			if d.cfg.Reporter != nil {
				d.cfg.Reporter.MalformedMessage(msg.Name+": "+err.Error(), topic.Directive.String(), seq, uint32(i))
			}
		}
	}
	_ = index
}

// OnSpeakerFrame is the Sequencer EmitFunc for the speaker topic: it
// unpacks the concatenated binary records and hands each to the speaker
// handler.
func (d *Dispatcher) OnSpeakerFrame(plaintext []byte, seq uint32, index uint32) {
	recs, err := message.ParseBinaryRecords(plaintext)
	if err != nil {
		if d.cfg.Reporter != nil {
			d.cfg.Reporter.MalformedMessage("speaker records: "+err.Error(), topic.Speaker.String(), seq, 0)
		}
		return
	}
	for i, rec := range recs {
		if d.cfg.SpeakerHandler != nil {
			d.cfg.SpeakerHandler(rec, seq, index+uint32(i))
		}
	}
}
