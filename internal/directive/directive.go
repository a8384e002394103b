// Package directive defines the closed set of directive names the
// service may send, their JSON payload shapes, and a registry that maps
// a directive name to the handler responsible for acting on it. Modeled
// on the dispatch-table pattern in server/internal/ws/handler.go, where
// an incoming message's type string selects a registered handler.
package directive

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Name is one of the closed set of directive names carried in a
// Message's header.
type Name string

const (
	SetVolume          Name = "SetVolume"
	OpenSpeaker        Name = "OpenSpeaker"
	CloseSpeaker       Name = "CloseSpeaker"
	OpenMicrophone     Name = "OpenMicrophone"
	CloseMicrophone    Name = "CloseMicrophone"
	SetAlert           Name = "SetAlert"
	DeleteAlert        Name = "DeleteAlert"
	SetAlertVolume     Name = "SetAlertVolume"
	SetAttentionState  Name = "SetAttentionState"
	RotateSecret       Name = "RotateSecret"
	SetClock           Name = "SetClock"
	Exception          Name = "Exception"
)

// Handler processes one directive element's JSON payload. seq and index
// identify the frame and the element's position within it, for exception
// reporting.
type Handler func(payload json.RawMessage, seq uint32, index uint32) error

// ErrUnsupported is returned by Dispatch when no handler is registered
// for a directive name the service nonetheless sent.
var ErrUnsupported = fmt.Errorf("directive: unsupported")

// Registry maps directive names to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Name]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Name]Handler)}
}

// Register installs h as the handler for name, replacing any prior
// registration.
func (r *Registry) Register(name Name, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Dispatch looks up and invokes the handler for name. It returns
// ErrUnsupported if no handler is registered.
func (r *Registry) Dispatch(name Name, payload json.RawMessage, seq uint32, index uint32) error {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return ErrUnsupported
	}
	return h(payload, seq, index)
}

// OpenSpeakerPayload is OpenSpeaker's directive payload.
type OpenSpeakerPayload struct {
	Offset uint64 `json:"offset"`
}

// CloseSpeakerPayload is CloseSpeaker's directive payload.
type CloseSpeakerPayload struct {
	Offset uint64 `json:"offset"`
}

// SetVolumePayload is SetVolume's directive payload. Volume is 0-100.
type SetVolumePayload struct {
	Volume uint8 `json:"volume"`
}

// OpenMicrophonePayload is OpenMicrophone's directive payload.
type OpenMicrophonePayload struct {
	InitiationType string `json:"initiationType"`
}

// SetAlertPayload is SetAlert's directive payload.
type SetAlertPayload struct {
	Token                   string `json:"token"`
	ScheduledTime           uint64 `json:"scheduledTime"`
	DurationInMilliseconds  uint32 `json:"durationInMilliseconds"`
	Type                    string `json:"type"`
}

// Valid reports whether p carries the fields a well-formed SetAlert
// requires. Token is the alert's identity; an empty token can never be a
// legitimate 8-character identifier, so its absence marks the directive
// malformed.
func (p SetAlertPayload) Valid() bool {
	return p.Token != ""
}

// DeleteAlertPayload is DeleteAlert's directive payload.
type DeleteAlertPayload struct {
	Token string `json:"token"`
}

// SetAlertVolumePayload is SetAlertVolume's directive payload.
type SetAlertVolumePayload struct {
	Volume uint8 `json:"volume"`
}

// SetAttentionStatePayload is SetAttentionState's directive payload.
type SetAttentionStatePayload struct {
	State string `json:"state"`
}

// RotateSecretPayload is RotateSecret's directive payload.
type RotateSecretPayload struct {
	NewSecret                string `json:"newSecret"`
	DirectiveSequenceNumber  uint32 `json:"directiveSequenceNumber"`
	SpeakerSequenceNumber    uint32 `json:"speakerSequenceNumber"`
	EventSequenceNumber      uint32 `json:"eventSequenceNumber"`
	MicrophoneSequenceNumber uint32 `json:"microphoneSequenceNumber"`
}

// SetClockPayload is SetClock's directive payload. CurrentTime is a Unix
// millisecond timestamp.
type SetClockPayload struct {
	CurrentTime uint64 `json:"currentTime"`
}

// ExceptionPayload is Exception's directive payload — the service
// reporting a problem it detected with something the device sent.
type ExceptionPayload struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}
