// Package sequencer implements an inbound reorder buffer that holds
// out-of-order frames until the gap ahead of them fills or a timeout
// elapses, at which point the missing frame is skipped. Grounded on
// client/internal/jitter/jitter.go's per-sender jitter buffer,
// generalized from "buffer opus frames for playback" to "buffer
// arbitrary payloads for delivery" and from a fixed playback tick to an
// event-driven gap timer built the way server/recording.go arms and
// re-arms time.AfterFunc.
package sequencer

import (
	"errors"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/aia-voice/deviceclient/internal/seqnum"
)

// defaultSlots is used when New is called with slots <= 0.
const defaultSlots = 64

// ErrOutOfWindow is returned by Write when seq is too far ahead of the
// next expected sequence number to fit in the reorder window: the
// caller cannot buffer it without clobbering an already-buffered frame.
var ErrOutOfWindow = errors.New("sequencer: sequence number is outside the reorder window")

// EmitFunc delivers one in-order payload. index is this frame's position
// within the current emit run (0-based), reset each time the sequencer
// resumes from a gap; it lets callers build "first of batch" semantics
// without tracking sequence numbers themselves.
type EmitFunc func(payload []byte, seq uint32, index uint32)

// TimeoutFunc is invoked when seq's gap timer elapses before seq arrives.
// The sequencer advances past seq regardless, so the caller should treat
// this as "this frame is gone, note it and move on" (e.g. emit an
// exception event).
type TimeoutFunc func(seq uint32)

type slot struct {
	set     bool
	payload []byte
	seq     uint32
}

// Sequencer reorders one inbound stream's frames by sequence number.
type Sequencer struct {
	mu sync.Mutex

	ring       []slot
	ringMask   uint32
	nextSeq    uint32
	hasNext    bool
	emitIndex  uint32
	gapTimeout time.Duration
	timer      *time.Timer

	emit      EmitFunc
	onTimeout TimeoutFunc
	logger    *slog.Logger
}

// New creates a Sequencer. gapTimeout is how long to wait for a missing
// frame before skipping it. slots bounds how many frames may be
// reordered ahead of the next expected sequence number; it is rounded
// up to the next power of two, defaulting to 64 if slots <= 0.
func New(slots int, gapTimeout time.Duration, emit EmitFunc, onTimeout TimeoutFunc, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	if slots <= 0 {
		slots = defaultSlots
	}
	slots = 1 << bits.Len(uint(slots-1))
	return &Sequencer{
		ring:       make([]slot, slots),
		ringMask:   uint32(slots - 1),
		hasNext:    true,
		gapTimeout: gapTimeout,
		emit:       emit,
		onTimeout:  onTimeout,
		logger:     logger,
	}
}

// Write admits one received frame. Frames at or after the current
// position are buffered (and drained in order); frames strictly before
// it are stale re-deliveries, treated as duplicate-ignorable rather
// than an error. A frame too far ahead to fit in the reorder window
// without overwriting an already-buffered frame is rejected with
// ErrOutOfWindow instead of being admitted.
func (s *Sequencer) Write(payload []byte, seq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasNext {
		s.nextSeq = seq
		s.hasNext = true
	}
	if seqnum.Less(seq, s.nextSeq) {
		return nil
	}
	if uint32(seqnum.Distance(seq, s.nextSeq)) > s.ringMask {
		return ErrOutOfWindow
	}

	idx := seq & s.ringMask
	s.ring[idx] = slot{set: true, payload: payload, seq: seq}
	s.drainLocked()
	s.rearmLocked()
	return nil
}

// drainLocked emits every contiguous frame starting at nextSeq. Caller
// holds mu.
func (s *Sequencer) drainLocked() {
	for {
		idx := s.nextSeq & s.ringMask
		sl := s.ring[idx]
		if !sl.set || sl.seq != s.nextSeq {
			return
		}
		s.ring[idx] = slot{}
		s.emit(sl.payload, sl.seq, s.emitIndex)
		s.emitIndex++
		s.nextSeq++
	}
}

// rearmLocked (re)starts the gap timer if any later frame is buffered
// ahead of nextSeq, and stops it otherwise. Caller holds mu.
func (s *Sequencer) rearmLocked() {
	if !s.hasPendingLocked() {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.gapTimeout, s.onTimerFire)
}

// hasPendingLocked reports whether any slot in the ring holds a frame
// past the current gap. Caller holds mu.
func (s *Sequencer) hasPendingLocked() bool {
	for _, sl := range s.ring {
		if sl.set {
			return true
		}
	}
	return false
}

// onTimerFire skips the missing frame at nextSeq and resumes draining.
// Skipping a gap counts as resuming from a gap, so emitIndex resets to
// 0 along with nextSeq, matching EmitFunc's documented index semantics.
func (s *Sequencer) onTimerFire() {
	s.mu.Lock()
	if !s.hasPendingLocked() {
		s.mu.Unlock()
		return
	}
	missing := s.nextSeq
	s.nextSeq++
	s.emitIndex = 0
	s.logger.Warn("sequencer: gap timed out, skipping sequence number", "seq", missing)
	s.drainLocked()
	s.rearmLocked()
	s.mu.Unlock()

	if s.onTimeout != nil {
		s.onTimeout(missing)
	}
}

// ResetSequenceNumber forces the sequencer to resume expecting seq next,
// discarding any buffered frames and stopping the gap timer. Used when a
// connection re-establishes and the service starts a fresh stream.
func (s *Sequencer) ResetSequenceNumber(seq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ring {
		s.ring[i] = slot{}
	}
	s.nextSeq = seq
	s.hasNext = true
	s.emitIndex = 0
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
