// Package audio provides the concrete PortAudio/Opus collaborators
// internal/speaker and internal/microphone depend on only through
// narrow interfaces (Decoder, Sink, Seeker's data source), adapted from
// client/audio.go's AudioEngine: same libraries (gopkg.in/hraban/opus.v2,
// github.com/gordonklaus/portaudio), same stream-open/device-resolve
// shape, reworked for this protocol's 16kHz mono capture rate and
// ring-buffer plumbing instead of that engine's channel-based pipeline.
package audio

import (
	"encoding/binary"

	opus "gopkg.in/hraban/opus.v2"
)

const (
	// SampleRate matches the protocol's 16kHz PCM capture/playback rate.
	SampleRate = 16000
	// Channels is mono, matching client/audio.go's own single-channel
	// voice path.
	Channels = 1
	// FrameSamples is 20ms of audio at SampleRate, the Opus frame
	// client/audio.go also standardizes capture/playback buffers on.
	FrameSamples = SampleRate / 50
	// maxOpusPacketBytes is RFC 6716's max Opus packet size, the same
	// constant client/audio.go sizes its encode buffer to.
	maxOpusPacketBytes = 1275
)

// OpusDecoder wraps an opus.Decoder as an internal/speaker.Decoder,
// converting its int16 PCM output to little-endian bytes.
type OpusDecoder struct {
	dec *opus.Decoder
}

// NewOpusDecoder creates a decoder for the protocol's sample rate and
// channel count.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, err
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus frame into little-endian 16-bit PCM bytes.
func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	pcm := make([]int16, FrameSamples)
	n, err := d.dec.Decode(frame, pcm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(pcm[i]))
	}
	return out, nil
}

// OpusEncoder wraps an opus.Encoder, accepting little-endian 16-bit PCM
// bytes and producing one Opus packet per call. Used for the
// microphone's uplink path, configured the same way
// client/audio.go's Start() configures its encoder (DTX and in-band FEC
// on, since this is a voice link over a lossy transport).
type OpusEncoder struct {
	enc *opus.Encoder
}

// NewOpusEncoder creates an encoder tuned for low-bitrate voice.
func NewOpusEncoder(bitrate int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, err
	}
	if err := enc.SetDTX(true); err != nil {
		return nil, err
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, err
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes one FrameSamples-worth chunk of little-endian 16-bit
// PCM bytes into an Opus packet.
func (e *OpusEncoder) Encode(pcmBytes []byte) ([]byte, error) {
	n := len(pcmBytes) / 2
	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(pcmBytes[i*2:]))
	}
	data := make([]byte, maxOpusPacketBytes)
	written, err := e.enc.Encode(pcm, data)
	if err != nil {
		return nil, err
	}
	return data[:written], nil
}
