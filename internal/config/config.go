// Package config manages persistent device settings for aiaclientd.
// Settings are stored as JSON at the path passed to Load/Save.
// Grounded on client/internal/config/config.go's Default/Load/Save
// trio, generalized from a desktop client's UI preferences to a
// headless device's connection and tuning knobs.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds every setting internal/device's orchestrator needs to
// wire its collaborators.
type Config struct {
	// BrokerAddress is the MQTT broker to dial, host:port.
	BrokerAddress string `json:"broker_address"`
	// StateDir holds the persisted secret, topic root, and alert set.
	StateDir string `json:"state_dir"`

	InputDeviceID  int `json:"input_device_id"`
	OutputDeviceID int `json:"output_device_id"`

	MicrophoneRingBytes int `json:"microphone_ring_bytes"`
	SpeakerRingBytes    int `json:"speaker_ring_bytes"`
	SpeakerFrameBytes   int `json:"speaker_frame_bytes"`

	EventMaxMessageSize      int `json:"event_max_message_size"`
	EventMinWaitMs           int `json:"event_min_wait_ms"`
	MicrophoneMaxMessageSize int `json:"microphone_max_message_size"`
	MicrophoneMinWaitMs      int `json:"microphone_min_wait_ms"`
	// MicrophoneFrameBytes is one 20ms 16kHz mono PCM frame: 320 samples
	// * 2 bytes.
	MicrophoneFrameBytes int `json:"microphone_frame_bytes"`

	DirectiveGapTimeoutMs int `json:"directive_gap_timeout_ms"`
	SpeakerGapTimeoutMs   int `json:"speaker_gap_timeout_ms"`
	// DirectiveSequencerSlots and SpeakerSequencerSlots bound how far
	// ahead of the next expected sequence number a frame may be
	// reordered before the sequencer refuses to buffer it. sequencer.New
	// rounds the value up to a power of two (64 if it is zero or less).
	DirectiveSequencerSlots int `json:"directive_sequencer_slots"`
	SpeakerSequencerSlots   int `json:"speaker_sequencer_slots"`

	MinVolume     uint8 `json:"min_volume"`
	MaxVolume     uint8 `json:"max_volume"`
	DefaultVolume uint8 `json:"default_volume"`
}

// Default returns a Config populated with sensible defaults for the
// regulator, sequencer, and ring components.
func Default() Config {
	return Config{
		BrokerAddress: "localhost:8883",
		StateDir:      "/var/lib/aiaclientd",

		InputDeviceID:  -1,
		OutputDeviceID: -1,

		MicrophoneRingBytes: 1 << 20,
		SpeakerRingBytes:    1 << 18,
		SpeakerFrameBytes:   4096,

		EventMaxMessageSize:      131072,
		EventMinWaitMs:           10,
		MicrophoneMaxMessageSize: 4096,
		MicrophoneMinWaitMs:      0,
		MicrophoneFrameBytes:     640,

		DirectiveGapTimeoutMs:   2000,
		SpeakerGapTimeoutMs:     500,
		DirectiveSequencerSlots: 64,
		SpeakerSequencerSlots:   64,

		MinVolume:     0,
		MaxVolume:     100,
		DefaultVolume: 80,
	}
}

// Load reads the config file at path and returns it. If the file is
// missing, the default config is returned rather than an error, since a
// freshly installed device has none yet.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, creating the parent
// directory if needed.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
