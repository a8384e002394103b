// Package exception centralizes construction of ExceptionEncountered
// events, so every manager that detects a protocol problem reports it
// the same way instead of hand-assembling the event message itself.
package exception

import (
	"encoding/json"
	"log/slog"

	"github.com/aia-voice/deviceclient/internal/idgen"
	"github.com/aia-voice/deviceclient/internal/message"
)

// Code is one of the well-known exception codes the device reports.
type Code string

const (
	UnsupportedAPI   Code = "UNSUPPORTED_API"
	MalformedMessage Code = "MALFORMED_MESSAGE"
	InternalError    Code = "INTERNAL_ERROR"
)

// errorRef is the payload's "error" object. Description is an additive
// field beyond the minimal {"code":...} shape, carrying the
// human-readable detail every call site already has in hand.
type errorRef struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// messageRef is the payload's "message" object, identifying the
// offending inbound message: topic, sequenceNumber, index.
type messageRef struct {
	Topic          string `json:"topic"`
	SequenceNumber uint32 `json:"sequenceNumber"`
	Index          uint32 `json:"index"`
}

// payload is ExceptionEncountered's JSON payload shape:
// {"error":{"code":...},"message":{"topic":...,"sequenceNumber":...,"index":...}}.
type payload struct {
	Error   errorRef    `json:"error"`
	Message *messageRef `json:"message,omitempty"`
}

// Sink accepts one outbound chunk, queuing it for the event topic. The
// event Regulator satisfies this interface.
type Sink interface {
	Write(chunk message.Chunk) (bool, error)
}

// Manager builds and queues ExceptionEncountered events.
type Manager struct {
	sink   Sink
	logger *slog.Logger
}

// New creates a Manager that queues events onto sink.
func New(sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{sink: sink, logger: logger}
}

// Report queues an ExceptionEncountered event with no message reference,
// for problems not tied to a specific inbound message (e.g. a rotation
// persistence failure).
func (m *Manager) Report(code Code, description string) {
	m.report(code, description, nil)
}

// ReportAt queues an ExceptionEncountered event identifying the inbound
// message (topic, sequence number, element index) that caused it, for
// parse-error and unknown-directive propagation.
func (m *Manager) ReportAt(code Code, description, topic string, seq, index uint32) {
	m.report(code, description, &messageRef{Topic: topic, SequenceNumber: seq, Index: index})
}

func (m *Manager) report(code Code, description string, ref *messageRef) {
	body, err := json.Marshal(payload{Error: errorRef{Code: string(code), Description: description}, Message: ref})
	if err != nil {
		m.logger.Error("exception: marshal payload failed", "err", err)
		return
	}
	msg := &message.JSON{Name: "ExceptionEncountered", MessageID: idgen.New(), Payload: body}
	if _, err := m.sink.Write(message.NewChunk(msg)); err != nil {
		m.logger.Warn("exception: failed to queue event", "code", code, "err", err)
	}
}

// UnsupportedAPI reports a directive the device has no handler for,
// identifying the offending directive element.
func (m *Manager) UnsupportedAPI(name, topic string, seq, index uint32) {
	m.ReportAt(UnsupportedAPI, "unsupported directive: "+name, topic, seq, index)
}

// MalformedMessage reports a message element that failed to parse or
// validate, identifying the offending inbound message.
func (m *Manager) MalformedMessage(detail, topic string, seq, index uint32) {
	m.ReportAt(MalformedMessage, detail, topic, seq, index)
}

// Internal reports an internal device error unrelated to message content.
func (m *Manager) Internal(detail string) {
	m.Report(InternalError, detail)
}
