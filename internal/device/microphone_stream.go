package device

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aia-voice/deviceclient/internal/message"
	"github.com/aia-voice/deviceclient/internal/microphone"
	"github.com/aia-voice/deviceclient/internal/regulator"
	"github.com/aia-voice/deviceclient/internal/ring"
)

// microphoneStreamer drains the data-stream ring at the Opus frame
// cadence while the microphone is open, encoding and queuing each frame
// onto the microphone Regulator. Grounded on internal/speaker.Manager's
// self-re-arming time.AfterFunc consumer loop, mirrored for the
// opposite direction of the same audio pipeline.
type microphoneStreamer struct {
	reader    *ring.Reader
	encoder   MicrophoneEncoder
	regulator *regulator.Regulator
	mic       *microphone.Manager
	logger    *slog.Logger

	frameBytes int
	tick       time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newMicrophoneStreamer(reader *ring.Reader, frameBytes int, encoder MicrophoneEncoder, reg *regulator.Regulator, mic *microphone.Manager, logger *slog.Logger) *microphoneStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &microphoneStreamer{
		reader:     reader,
		encoder:    encoder,
		regulator:  reg,
		mic:        mic,
		logger:     logger,
		frameBytes: frameBytes,
		tick:       20 * time.Millisecond,
	}
}

// Start begins the periodic drain loop.
func (s *microphoneStreamer) Start() {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
	s.arm()
}

func (s *microphoneStreamer) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timer = time.AfterFunc(s.tick, s.onTick)
}

func (s *microphoneStreamer) onTick() {
	s.Tick()
	s.arm()
}

// Tick reads one frame from the data-stream ring and, if the microphone
// is open and a frame was captured, encodes and queues it. Exported so
// tests can drive it deterministically instead of waiting on a real
// timer.
func (s *microphoneStreamer) Tick() {
	buf := make([]byte, s.frameBytes)
	n, res := s.reader.Read(buf)
	if res != ring.ReadOK || n == 0 {
		return
	}
	if s.mic != nil && s.mic.State() != microphone.Open {
		return
	}
	if s.encoder == nil || s.regulator == nil {
		return
	}
	encoded, err := s.encoder.Encode(buf[:n])
	if err != nil {
		s.logger.Warn("micstream: encode failed", "err", err)
		return
	}
	bin := &message.Binary{Type: 0, Count: 1, Data: encoded}
	if _, err := s.regulator.Write(message.NewChunk(bin)); err != nil {
		s.logger.Warn("micstream: queue failed", "err", err)
	}
}

// Stop halts the drain loop.
func (s *microphoneStreamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}
