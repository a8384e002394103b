// Package microphone implements the MicrophoneManager: the
// three local initiation variants the button/wake-word surface drives
// (HoldToTalk, TapToTalk, WakeWordStart), the service-issued
// OpenMicrophone/CloseMicrophone directive handlers, and the OPEN/CLOSED
// state, reported through the optional OnStateChanged callback.
// internal/device does not set that callback, so the UX manager does
// not observe this state. Grounded on internal/speaker's
// event-publishing shape and internal/connection's state-holder-plus-
// callback pattern.
package microphone

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aia-voice/deviceclient/internal/idgen"
	"github.com/aia-voice/deviceclient/internal/message"
	"github.com/aia-voice/deviceclient/internal/ring"
)

// State is the microphone's open/closed state.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "OPEN"
	}
	return "CLOSED"
}

// defaultSampleRate matches the protocol's 16 kHz PCM capture rate.
const defaultSampleRate = 16000

// Seeker is the data-stream ring reader the microphone unblocks at the
// right sample when capture begins.
type Seeker interface {
	Seek(kind ring.SeekKind, offset uint32) error
}

// EventSink accepts MicrophoneOpened/MicrophoneClosed event chunks.
type EventSink interface {
	Write(chunk message.Chunk) (bool, error)
}

// StateObserver is notified on every OPEN/CLOSED transition.
type StateObserver func(state State)

// Config wires the Manager's collaborators.
type Config struct {
	// SampleRate is samples/sec, used to convert the wake-word preroll
	// window to a sample count. Defaults to 16000.
	SampleRate uint32

	Reader         Seeker
	Events         EventSink
	OnStateChanged StateObserver
}

// Manager tracks microphone open/closed state and the capture
// initiation that opened it.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a Manager starting Closed.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	return &Manager{cfg: cfg, logger: logger, state: Closed}
}

// State returns the current OPEN/CLOSED state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HoldToTalk opens the microphone for a push-to-hold gesture starting
// at startSample.
func (m *Manager) HoldToTalk(startSample uint32) {
	m.open(openParams{initiation: "HOLD_TO_TALK", seekSample: startSample, startSample: startSample})
}

// TapToTalk opens the microphone for a tap gesture starting at
// startSample, tagged with profile.
func (m *Manager) TapToTalk(startSample uint32, profile string) {
	m.open(openParams{initiation: "TAP_TO_TALK", seekSample: startSample, startSample: startSample, profile: profile})
}

// WakeWordStart opens the microphone after a wake-word detection
// spanning [beginSample, endSample]. The data-stream reader is
// unblocked 500ms before beginSample so the captured utterance includes
// the run-up to the wake word.
func (m *Manager) WakeWordStart(beginSample, endSample uint32, profile, word string) {
	preroll := m.cfg.SampleRate / 2 // 500ms of samples
	seekAt := uint32(0)
	if beginSample > preroll {
		seekAt = beginSample - preroll
	}
	end := endSample
	m.open(openParams{
		initiation:  "WAKE_WORD",
		seekSample:  seekAt,
		startSample: beginSample,
		endSample:   &end,
		profile:     profile,
		word:        word,
	})
}

type openParams struct {
	initiation  string
	seekSample  uint32
	startSample uint32
	endSample   *uint32
	profile     string
	word        string
}

func (m *Manager) open(p openParams) {
	if m.cfg.Reader != nil {
		if err := m.cfg.Reader.Seek(ring.Absolute, p.seekSample); err != nil {
			m.logger.Warn("microphone: failed to seek data-stream reader", "err", err)
		}
	}
	m.setState(Open)
	m.publishOpened(p)
}

// CloseMicrophone closes the microphone, e.g. on a local button release
// or a CloseMicrophone directive.
func (m *Manager) CloseMicrophone() {
	m.setState(Closed)
	m.publishClosed()
}

// OnOpenMicrophoneDirective is the directive.Handler for OpenMicrophone.
func (m *Manager) OnOpenMicrophoneDirective(payload json.RawMessage, seq, index uint32) error {
	var p struct {
		InitiationType string `json:"initiationType"`
		StartSample    uint32 `json:"startSample"`
		Profile        string `json:"profile"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	switch p.InitiationType {
	case "TAP_TO_TALK":
		m.TapToTalk(p.StartSample, p.Profile)
	default:
		m.HoldToTalk(p.StartSample)
	}
	return nil
}

// OnCloseMicrophoneDirective is the directive.Handler for
// CloseMicrophone.
func (m *Manager) OnCloseMicrophoneDirective(payload json.RawMessage, seq, index uint32) error {
	m.CloseMicrophone()
	return nil
}

func (m *Manager) setState(next State) {
	m.mu.Lock()
	changed := m.state != next
	m.state = next
	m.mu.Unlock()
	if changed && m.cfg.OnStateChanged != nil {
		m.cfg.OnStateChanged(next)
	}
}

type openedPayload struct {
	InitiationType string `json:"initiationType"`
	StartSample    uint32 `json:"startSample"`
	EndSample      *uint32 `json:"endSample,omitempty"`
	Profile        string  `json:"profile,omitempty"`
	WakeWord       string  `json:"wakeWord,omitempty"`
}

func (m *Manager) publishOpened(p openParams) {
	body, err := json.Marshal(openedPayload{
		InitiationType: p.initiation,
		StartSample:    p.startSample,
		EndSample:      p.endSample,
		Profile:        p.profile,
		WakeWord:       p.word,
	})
	if err != nil {
		m.logger.Error("microphone: marshal MicrophoneOpened failed", "err", err)
		return
	}
	m.publish("MicrophoneOpened", body)
}

func (m *Manager) publishClosed() {
	m.publish("MicrophoneClosed", nil)
}

func (m *Manager) publish(name string, payload json.RawMessage) {
	if m.cfg.Events == nil {
		return
	}
	msg := &message.JSON{Name: name, MessageID: idgen.New(), Payload: payload}
	if _, err := m.cfg.Events.Write(message.NewChunk(msg)); err != nil {
		m.logger.Warn("microphone: failed to queue event", "name", name, "err", err)
	}
}
