package seqnum

import "testing"

func TestGEqAroundWrap(t *testing.T) {
	if !GEq(5, 3) {
		t.Error("5 should be >= 3")
	}
	if GEq(3, 5) {
		t.Error("3 should not be >= 5")
	}
	// Wraparound: 1 is "ahead of" MaxUint32 by modular distance 2.
	if !GEq(1, 4294967295) {
		t.Error("1 should be >= MaxUint32 across the wrap")
	}
}

func TestLessIsInverseOfGEq(t *testing.T) {
	for _, pair := range [][2]uint32{{0, 1}, {1, 0}, {100, 100}, {0, 4294967295}} {
		a, b := pair[0], pair[1]
		if Less(a, b) == GEq(a, b) {
			t.Errorf("Less(%d,%d)=%v and GEq(%d,%d)=%v should disagree", a, b, Less(a, b), a, b, GEq(a, b))
		}
	}
}
