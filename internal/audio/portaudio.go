// Concrete PortAudio capture/playback collaborators: CaptureSource
// writes the data-stream ring's mic samples, PlaybackSink implements
// internal/speaker.Sink. Adapted from client/audio.go's AudioEngine
// Start()/Stop() device-resolution and stream lifecycle, reworked from
// float32 buffers and a 48kHz stereo-capable engine down to this
// protocol's fixed 16kHz mono int16 PCM path.
package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/aia-voice/deviceclient/internal/ring"
)

// resolveDevice mirrors client/audio.go's resolveDevice: an explicit
// index selects a device by position in the enumerated device list,
// -1 (or an out-of-range index) falls back to the platform default.
func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// CaptureSource reads 16kHz mono PCM from an input device and writes it
// into a data-stream ring: the microphone's capture-to-ring data flow.
type CaptureSource struct {
	deviceID int
	ring     *ring.Ring
	policy   ring.WriterPolicy

	stream  *portaudio.Stream
	buf     []int16
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewCaptureSource creates a capture source for deviceID (-1 for the
// platform default) writing into r under policy. Nonblockable is the
// policy the microphone's single writer uses: it never stalls capture
// waiting on slow readers. r may be nil if the destination ring is not
// yet constructed; call
// SetRing before Start in that case.
func NewCaptureSource(deviceID int, r *ring.Ring, policy ring.WriterPolicy) *CaptureSource {
	return &CaptureSource{deviceID: deviceID, ring: r, policy: policy, buf: make([]int16, FrameSamples)}
}

// SetRing attaches (or replaces) the destination ring. Call it before
// Start; the capture loop reads c.ring on every iteration, and the
// field is not guarded by a lock.
func (c *CaptureSource) SetRing(r *ring.Ring) {
	c.ring = r
}

// Start opens the input stream and begins writing captured frames into
// the ring on a dedicated goroutine.
func (c *CaptureSource) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("audio: enumerate devices: %w", err)
	}
	dev, err := resolveDevice(devices, c.deviceID, portaudio.DefaultInputDevice)
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("audio: resolve input device: %w", err)
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: FrameSamples,
	}
	stream, err := portaudio.OpenStream(params, c.buf)
	if err != nil {
		c.running.Store(false)
		return fmt.Errorf("audio: open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		c.running.Store(false)
		return fmt.Errorf("audio: start capture stream: %w", err)
	}
	c.stream = stream
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.captureLoop()
	return nil
}

func (c *CaptureSource) captureLoop() {
	defer c.wg.Done()
	out := make([]byte, len(c.buf)*2)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		if err := c.stream.Read(); err != nil {
			continue
		}
		for i, s := range c.buf {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
		}
		c.ring.Write(c.policy, out)
	}
}

// Stop halts capture and releases the stream. Blocking Read calls are
// interrupted by Stop()/Close() the same way client/audio.go's Stop
// sequences its own capture goroutine shutdown.
func (c *CaptureSource) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)
	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	c.wg.Wait()
}

// PlaybackSink plays decoded PCM out an output device. Implements
// internal/speaker.Sink.
type PlaybackSink struct {
	deviceID int
	mu       sync.Mutex
	stream   *portaudio.Stream
	buf      []int16
	running  atomic.Bool
}

// NewPlaybackSink creates a playback sink for deviceID (-1 for default).
func NewPlaybackSink(deviceID int) *PlaybackSink {
	return &PlaybackSink{deviceID: deviceID, buf: make([]int16, FrameSamples)}
}

// Start opens the output stream.
func (p *PlaybackSink) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		p.running.Store(false)
		return fmt.Errorf("audio: enumerate devices: %w", err)
	}
	dev, err := resolveDevice(devices, p.deviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		p.running.Store(false)
		return fmt.Errorf("audio: resolve output device: %w", err)
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: FrameSamples,
	}
	stream, err := portaudio.OpenStream(params, p.buf)
	if err != nil {
		p.running.Store(false)
		return fmt.Errorf("audio: open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		p.running.Store(false)
		return fmt.Errorf("audio: start playback stream: %w", err)
	}
	p.stream = stream
	return nil
}

// PlayPCM writes one frame of little-endian 16-bit PCM to the output
// device, blocking until PortAudio accepts it.
func (p *PlaybackSink) PlayPCM(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return fmt.Errorf("audio: playback stream not started")
	}
	n := len(pcm) / 2
	if n > len(p.buf) {
		n = len(p.buf)
	}
	for i := 0; i < len(p.buf); i++ {
		if i < n {
			p.buf[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		} else {
			p.buf[i] = 0
		}
	}
	return p.stream.Write()
}

// Stop halts playback and releases the stream.
func (p *PlaybackSink) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		p.stream.Stop()
		p.stream.Close()
	}
}
