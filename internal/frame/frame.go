// Package frame encodes and decodes the wire layout shared by every
// encrypted MQTT topic: a little-endian u32 sequence number, a 12-byte
// GCM IV, the ciphertext, and a 16-byte authentication tag.
package frame

import (
	"encoding/binary"
	"errors"
)

const (
	ivLen  = 12
	tagLen = 16
	// headerLen is the combined size of the sequence number and IV that
	// precede the ciphertext.
	headerLen = 4 + ivLen
)

// ErrTruncated is returned by Decode when b is too short to contain a
// sequence number, IV, and tag.
var ErrTruncated = errors.New("frame: truncated")

// Encode assembles seq‖iv‖ciphertext‖tag. iv must be 12 bytes and tag must
// be 16 bytes; Encode does not validate their lengths beyond what append
// naturally tolerates, since callers are internal to this module.
func Encode(seq uint32, iv, ciphertext, tag []byte) []byte {
	out := make([]byte, 0, 4+len(iv)+len(ciphertext)+len(tag))
	var seqBytes [4]byte
	binary.LittleEndian.PutUint32(seqBytes[:], seq)
	out = append(out, seqBytes[:]...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out
}

// Decode splits a wire frame back into its sequence number, IV, ciphertext,
// and authentication tag.
func Decode(b []byte) (seq uint32, iv, ciphertext, tag []byte, err error) {
	if len(b) < headerLen+tagLen {
		return 0, nil, nil, nil, ErrTruncated
	}
	seq = binary.LittleEndian.Uint32(b[0:4])
	iv = b[4:headerLen]
	ciphertext = b[headerLen : len(b)-tagLen]
	tag = b[len(b)-tagLen:]
	return seq, iv, ciphertext, tag, nil
}
