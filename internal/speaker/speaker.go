// Package speaker implements the SpeakerManager: a byte ring
// fed by incoming binary speaker frames, drained at the Opus frame
// cadence (~20ms) by a periodic consumer that decodes and plays each
// frame, publishing BufferStateChanged events as fill level crosses
// thresholds. Grounded on internal/regulator's self-re-arming
// time.AfterFunc consumer loop (itself grounded on
// server/recording.go), reusing internal/ring as the byte buffer with
// wordSize 1.
package speaker

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aia-voice/deviceclient/internal/idgen"
	"github.com/aia-voice/deviceclient/internal/message"
	"github.com/aia-voice/deviceclient/internal/ring"
)

// BufferState is one of the closed set of fill-level states
// BufferStateChanged reports.
type BufferState int

const (
	None BufferState = iota
	UnderrunWarning
	Underrun
	OverrunWarning
	Overrun
)

func (s BufferState) String() string {
	switch s {
	case UnderrunWarning:
		return "UNDERRUN_WARNING"
	case Underrun:
		return "UNDERRUN"
	case OverrunWarning:
		return "OVERRUN_WARNING"
	case Overrun:
		return "OVERRUN"
	default:
		return "NONE"
	}
}

// Decoder turns one Opus-encoded frame into PCM samples.
type Decoder interface {
	Decode(frame []byte) (pcm []byte, err error)
}

// Sink plays decoded PCM out to the device's audio hardware.
type Sink interface {
	PlayPCM(pcm []byte) error
}

// Resequencer resets the speaker topic's inbound sequencer, used to
// resynchronize after an Overrun per a subsequent recovery directive.
type Resequencer interface {
	ResetSequenceNumber(seq uint32)
}

// EventSink accepts the BufferStateChanged event chunk.
type EventSink interface {
	Write(chunk message.Chunk) (bool, error)
}

// Config holds the Manager's tuning knobs and collaborators.
type Config struct {
	RingBytes  int
	FrameBytes int // max bytes read from the ring per consumer tick
	Tick       time.Duration

	MinVolume uint8
	MaxVolume uint8

	UnderrunBytes        int
	UnderrunWarningBytes int
	OverrunWarningBytes  int
	OverrunBytes         int

	Decoder     Decoder
	Sink        Sink
	Events      EventSink
	Resequencer Resequencer
}

// Manager buffers and plays speaker audio.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	ring   *ring.Ring
	reader *ring.Reader

	volume  atomic.Int32
	queued  atomic.Int64
	stopped atomic.Bool

	mu    sync.Mutex
	state BufferState
	timer *time.Timer

	readyCh chan struct{}
}

// New creates a Manager with its own internal byte ring.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	r := ring.New(cfg.RingBytes, 1, 1)
	rd, err := r.NewReader()
	if err != nil {
		// A freshly constructed single-reader ring always has room.
		panic("speaker: unexpected NewReader failure: " + err.Error())
	}
	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		ring:    r,
		reader:  rd,
		readyCh: make(chan struct{}, 1),
	}
	m.volume.Store(int32(cfg.MaxVolume))
	return m
}

// OnFrame enqueues one inbound binary speaker frame's data bytes.
func (m *Manager) OnFrame(bin *message.Binary, seq, index uint32) {
	n, _ := m.ring.Write(ring.Nonblockable, bin.Data)
	m.queued.Add(int64(n))
	m.evaluateState()
}

// Start begins the periodic consumer.
func (m *Manager) Start() {
	m.stopped.Store(false)
	m.armTimer()
}

func (m *Manager) armTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped.Load() {
		return
	}
	m.timer = time.AfterFunc(m.cfg.Tick, m.onTick)
}

func (m *Manager) onTick() {
	m.Tick()
	m.armTimer()
}

// Tick performs one consumption step: read up to FrameBytes, decode,
// and play. Exported so tests can drive the consumer deterministically
// instead of waiting on a real timer.
func (m *Manager) Tick() {
	if m.stopped.Load() {
		return
	}
	buf := make([]byte, m.cfg.FrameBytes)
	n, res := m.reader.Read(buf)
	switch res {
	case ring.ReadOK:
		m.queued.Add(-int64(n))
		m.evaluateState()
		if m.cfg.Decoder == nil || m.cfg.Sink == nil {
			return
		}
		pcm, err := m.cfg.Decoder.Decode(buf[:n])
		if err != nil {
			m.logger.Warn("speaker: decode failed", "err", err)
			return
		}
		if err := m.cfg.Sink.PlayPCM(pcm); err != nil {
			m.logger.Warn("speaker: play failed", "err", err)
			return
		}
		m.signalReady()
	case ring.WouldBlock:
		m.evaluateState()
	case ring.Overrun:
		m.setState(Overrun)
		m.publishBufferState(Overrun)
	case ring.Closed:
		m.stopped.Store(true)
	}
}

// OnSpeakerReady returns the channel signaled each time the consumer
// finishes playing a frame.
func (m *Manager) OnSpeakerReady() <-chan struct{} {
	return m.readyCh
}

func (m *Manager) signalReady() {
	select {
	case m.readyCh <- struct{}{}:
	default:
	}
}

// evaluateState recomputes the buffer state from the queued byte count
// and publishes a BufferStateChanged event on any transition.
func (m *Manager) evaluateState() {
	q := m.queued.Load()
	var next BufferState
	switch {
	case q <= int64(m.cfg.UnderrunBytes):
		next = Underrun
	case q <= int64(m.cfg.UnderrunWarningBytes):
		next = UnderrunWarning
	case q >= int64(m.cfg.OverrunBytes):
		next = Overrun
	case q >= int64(m.cfg.OverrunWarningBytes):
		next = OverrunWarning
	default:
		next = None
	}

	if m.setState(next) {
		m.publishBufferState(next)
	}
}

// setState installs next if different from the current state, reporting
// whether a transition occurred.
func (m *Manager) setState(next BufferState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == next {
		return false
	}
	m.state = next
	return true
}

func (m *Manager) publishBufferState(state BufferState) {
	if m.cfg.Events == nil {
		return
	}
	body, err := json.Marshal(struct {
		State string `json:"state"`
	}{State: state.String()})
	if err != nil {
		m.logger.Error("speaker: marshal BufferStateChanged failed", "err", err)
		return
	}
	msg := &message.JSON{Name: "BufferStateChanged", MessageID: idgen.New(), Payload: body}
	if _, err := m.cfg.Events.Write(message.NewChunk(msg)); err != nil {
		m.logger.Warn("speaker: failed to queue BufferStateChanged", "err", err)
	}
}

// ResyncAfterOverrun resets the speaker sequencer to seq, per a
// recovery directive the service sends after an Overrun.
func (m *Manager) ResyncAfterOverrun(seq uint32) {
	if m.cfg.Resequencer != nil {
		m.cfg.Resequencer.ResetSequenceNumber(seq)
	}
}

// SetVolume clamps v to [MinVolume, MaxVolume] and installs it.
func (m *Manager) SetVolume(v uint8) {
	if v < m.cfg.MinVolume {
		v = m.cfg.MinVolume
	}
	if v > m.cfg.MaxVolume {
		v = m.cfg.MaxVolume
	}
	m.volume.Store(int32(v))
}

// AdjustVolume applies delta to the current volume, clamping the result.
func (m *Manager) AdjustVolume(delta int) {
	cur := int(m.volume.Load()) + delta
	if cur < int(m.cfg.MinVolume) {
		cur = int(m.cfg.MinVolume)
	}
	if cur > int(m.cfg.MaxVolume) {
		cur = int(m.cfg.MaxVolume)
	}
	m.volume.Store(int32(cur))
}

// Volume returns the current volume.
func (m *Manager) Volume() uint8 {
	return uint8(m.volume.Load())
}

// StopPlayback halts the consumer.
func (m *Manager) StopPlayback() {
	m.stopped.Store(true)
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
}

// State returns the current buffer state (test/diagnostic use).
func (m *Manager) State() BufferState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnOpenSpeakerDirective is the directive.Handler for OpenSpeaker: the
// service is about to resume sending speaker frames at the given
// offset, so the consumer is (re)started.
func (m *Manager) OnOpenSpeakerDirective(payload json.RawMessage, seq, index uint32) error {
	var p struct {
		Offset uint64 `json:"offset"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	m.Start()
	return nil
}

// OnCloseSpeakerDirective is the directive.Handler for CloseSpeaker.
func (m *Manager) OnCloseSpeakerDirective(payload json.RawMessage, seq, index uint32) error {
	m.StopPlayback()
	return nil
}

// OnSetVolumeDirective is the directive.Handler for SetVolume.
func (m *Manager) OnSetVolumeDirective(payload json.RawMessage, seq, index uint32) error {
	var p struct {
		Volume uint8 `json:"volume"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	m.SetVolume(p.Volume)
	return nil
}
