// Package seqnum implements the wrap-safe modular-arithmetic comparisons
// shared by the sequencer and secret manager for u32 sequence numbers,
// following the same signed-subtraction trick
// client/internal/jitter.Buffer.Push uses for its u16 sequence space.
package seqnum

// Distance returns a-b as a signed distance in the range
// [-2^31, 2^31), treating the sequence space as wrapping at 2^32.
// A positive result means a is "ahead of" b.
func Distance(a, b uint32) int32 {
	return int32(a - b)
}

// GEq reports whether a >= b in modular order over the 2^31 window.
func GEq(a, b uint32) bool {
	return Distance(a, b) >= 0
}

// Less reports whether a < b in modular order over the 2^31 window.
func Less(a, b uint32) bool {
	return Distance(a, b) < 0
}
