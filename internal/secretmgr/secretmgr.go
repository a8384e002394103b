// Package secretmgr manages the symmetric key(s) used to encrypt and
// decrypt the four high-volume topics (event, microphone, directive,
// speaker), rotating between an old and a newly-staged key at
// independently tracked sequence-number boundaries, one per topic.
// Modeled on server/internal/core/channel_state.go's mutex-guarded
// hot-state components and its atomic counters for cheap concurrent
// reads.
package secretmgr

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aia-voice/deviceclient/internal/seqnum"
	"github.com/aia-voice/deviceclient/internal/topic"
)

// Cipher is the AEAD primitive the secret manager encrypts and decrypts
// with. The protocol core never touches key material directly; a
// concrete implementation (AES-256-GCM) lives outside this package.
type Cipher interface {
	// Seal encrypts plaintext under key, returning a fresh IV, the
	// ciphertext, and the authentication tag.
	Seal(key, plaintext []byte) (iv, ciphertext, tag []byte, err error)
	// Open decrypts and authenticates ciphertext under key.
	Open(key, iv, ciphertext, tag []byte) (plaintext []byte, err error)
}

// KeyDeriver compresses an arbitrary-length secret down to the cipher's
// required key length via HKDF.
type KeyDeriver interface {
	Derive(secret []byte, length int) ([]byte, error)
}

// Store persists the device's current key material across restarts.
type Store interface {
	SaveSecret(key []byte) error
}

// SeqPeeker reports the next sequence number an outbound emitter will
// allocate, without consuming it.
type SeqPeeker interface {
	PeekNextSeq() uint32
}

// KeyLen is the AES-256 key length in bytes.
const KeyLen = 32

// rotation tracks the boundary and one-shot crossing bookkeeping for a
// single topic participating in key rotation.
type rotation struct {
	has     bool
	crossed bool
	boundary uint32
}

// SecretManager holds the device's current and previously-active keys and
// answers per-topic, per-sequence encrypt/decrypt requests.
type SecretManager struct {
	mu sync.Mutex

	keyBefore []byte
	keyAfter  []byte // nil when no rotation has ever been staged

	rotations map[topic.Topic]*rotation

	cipher  Cipher
	deriver KeyDeriver
	store   Store
	logger  *slog.Logger

	eventPeek      SeqPeeker
	microphonePeek SeqPeeker

	// onRotated is invoked after a rotation is staged, with the outbound
	// boundaries the device has chosen to advertise back to the service.
	onRotated func(eventSeq, microphoneSeq uint32)
}

// Config wires a SecretManager's collaborators.
type Config struct {
	InitialKey     []byte
	Cipher         Cipher
	Deriver        KeyDeriver
	Store          Store
	EventPeek      SeqPeeker
	MicrophonePeek SeqPeeker
	OnRotated      func(eventSeq, microphoneSeq uint32)
}

// New creates a SecretManager seeded with cfg.InitialKey.
func New(cfg Config, logger *slog.Logger) *SecretManager {
	if logger == nil {
		logger = slog.Default()
	}
	rotations := make(map[topic.Topic]*rotation, 4)
	for _, t := range []topic.Topic{topic.Event, topic.Microphone, topic.Directive, topic.Speaker} {
		rotations[t] = &rotation{}
	}
	return &SecretManager{
		keyBefore:      cfg.InitialKey,
		rotations:      rotations,
		cipher:         cfg.Cipher,
		deriver:        cfg.Deriver,
		store:          cfg.Store,
		eventPeek:      cfg.EventPeek,
		microphonePeek: cfg.MicrophonePeek,
		onRotated:      cfg.OnRotated,
		logger:         logger,
	}
}

// keyForLocked returns the key active for seq on topic t. Caller holds mu.
func (s *SecretManager) keyForLocked(t topic.Topic, seq uint32) []byte {
	r, ok := s.rotations[t]
	if !ok || !r.has || s.keyAfter == nil {
		return s.keyBefore
	}
	if seqnum.GEq(seq, r.boundary) {
		if !r.crossed {
			r.crossed = true
			s.logger.Info("secretmgr: topic crossed rotation boundary", "topic", t, "seq", seq, "boundary", r.boundary)
		}
		return s.keyAfter
	}
	return s.keyBefore
}

// Encrypt encrypts plaintext for topic t at sequence seq under whichever
// key is active for that (topic, seq) pair.
func (s *SecretManager) Encrypt(t topic.Topic, seq uint32, plaintext []byte) (ciphertext, iv, tag []byte, err error) {
	s.mu.Lock()
	key := s.keyForLocked(t, seq)
	s.mu.Unlock()

	iv, ciphertext, tag, err = s.cipher.Seal(key, plaintext)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("secretmgr: encrypt %s seq %d: %w", t, seq, err)
	}
	return ciphertext, iv, tag, nil
}

// Decrypt decrypts and authenticates ciphertext for topic t at seq.
func (s *SecretManager) Decrypt(t topic.Topic, seq uint32, iv, ciphertext, tag []byte) ([]byte, error) {
	s.mu.Lock()
	key := s.keyForLocked(t, seq)
	s.mu.Unlock()

	plaintext, err := s.cipher.Open(key, iv, ciphertext, tag)
	if err != nil {
		return nil, fmt.Errorf("secretmgr: decrypt %s seq %d: %w", t, seq, err)
	}
	return plaintext, nil
}

// RotateSecretPayload mirrors the RotateSecret directive's JSON shape.
// Declared here (rather than imported from internal/directive) to avoid a
// dependency from the crypto core onto the directive dispatch layer.
type RotateSecretPayload struct {
	NewSecret                string `json:"newSecret"`
	DirectiveSequenceNumber  uint32 `json:"directiveSequenceNumber"`
	SpeakerSequenceNumber    uint32 `json:"speakerSequenceNumber"`
	EventSequenceNumber      uint32 `json:"eventSequenceNumber"`
	MicrophoneSequenceNumber uint32 `json:"microphoneSequenceNumber"`
}

// OnRotateSecretDirective stages a new key and its four rotation
// boundaries. Inbound (directive, speaker) boundaries come straight from
// the payload, since the service controls when it starts using the new
// key on those streams. Outbound (event, microphone) boundaries are the
// greater of the service's suggestion and whatever this device has not
// yet sent, so a rotation never retroactively applies to an
// already-allocated sequence number.
func (s *SecretManager) OnRotateSecretDirective(p RotateSecretPayload) error {
	raw, err := base64.StdEncoding.DecodeString(p.NewSecret)
	if err != nil {
		return fmt.Errorf("secretmgr: decode newSecret: %w", err)
	}

	key := raw
	if s.deriver != nil && len(raw) != KeyLen {
		key, err = s.deriver.Derive(raw, KeyLen)
		if err != nil {
			return fmt.Errorf("secretmgr: derive key: %w", err)
		}
	}

	if s.store != nil {
		if err := s.store.SaveSecret(key); err != nil {
			return fmt.Errorf("secretmgr: persist key: %w", err)
		}
	}

	eventBoundary := p.EventSequenceNumber
	if s.eventPeek != nil {
		if peek := s.eventPeek.PeekNextSeq(); seqnum.GEq(peek, eventBoundary) {
			eventBoundary = peek
		}
	}
	microphoneBoundary := p.MicrophoneSequenceNumber
	if s.microphonePeek != nil {
		if peek := s.microphonePeek.PeekNextSeq(); seqnum.GEq(peek, microphoneBoundary) {
			microphoneBoundary = peek
		}
	}

	s.mu.Lock()
	if s.keyAfter != nil {
		// A prior rotation already completed or is in flight; the key it
		// staged becomes the new "before" reference point.
		s.keyBefore = s.keyAfter
	}
	s.keyAfter = key
	s.rotations[topic.Directive] = &rotation{has: true, boundary: p.DirectiveSequenceNumber}
	s.rotations[topic.Speaker] = &rotation{has: true, boundary: p.SpeakerSequenceNumber}
	s.rotations[topic.Event] = &rotation{has: true, boundary: eventBoundary}
	s.rotations[topic.Microphone] = &rotation{has: true, boundary: microphoneBoundary}
	s.mu.Unlock()

	s.logger.Info("secretmgr: rotation staged",
		"directiveBoundary", p.DirectiveSequenceNumber, "speakerBoundary", p.SpeakerSequenceNumber,
		"eventBoundary", eventBoundary, "microphoneBoundary", microphoneBoundary)

	if s.onRotated != nil {
		s.onRotated(eventBoundary, microphoneBoundary)
	}
	return nil
}
