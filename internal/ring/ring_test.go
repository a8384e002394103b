package ring

import "testing"

const word = 4 // bytes per word in these tests

func words(vals ...uint32) []byte {
	b := make([]byte, len(vals)*word)
	for i, v := range vals {
		b[i*word+0] = byte(v)
		b[i*word+1] = byte(v >> 8)
		b[i*word+2] = byte(v >> 16)
		b[i*word+3] = byte(v >> 24)
	}
	return b
}

func readWords(t *testing.T, buf []byte) []uint32 {
	t.Helper()
	out := make([]uint32, len(buf)/word)
	for i := range out {
		out[i] = uint32(buf[i*word]) | uint32(buf[i*word+1])<<8 | uint32(buf[i*word+2])<<16 | uint32(buf[i*word+3])<<24
	}
	return out
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	r := New(8*word, word, 2)
	rd, err := r.NewReader()
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	n, blocked := r.Write(Nonblocking, words(1, 2, 3))
	if blocked || n != 3*word {
		t.Fatalf("write: n=%d blocked=%v", n, blocked)
	}

	buf := make([]byte, 3*word)
	n, res := rd.Read(buf)
	if res != ReadOK || n != 3*word {
		t.Fatalf("read: n=%d res=%v", n, res)
	}
	got := readWords(t, buf)
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got %v", got)
	}
}

func TestReadWouldBlockWhenCaughtUp(t *testing.T) {
	r := New(8*word, word, 1)
	rd, _ := r.NewReader()
	_, buf := 0, make([]byte, word)
	n, res := rd.Read(buf)
	_ = buf
	if res != WouldBlock || n != 0 {
		t.Fatalf("got n=%d res=%v, want WouldBlock", n, res)
	}
}

func TestReadClosedAfterWriterDisabled(t *testing.T) {
	r := New(8*word, word, 1)
	rd, _ := r.NewReader()
	r.DisableWriter()

	n, res := rd.Read(make([]byte, word))
	if res != Closed || n != 0 {
		t.Fatalf("got n=%d res=%v, want Closed", n, res)
	}
}

func TestNonblockableOverwritesSlowReader(t *testing.T) {
	r := New(4*word, word, 1) // 4-word capacity
	rd, _ := r.NewReader()

	r.Write(Nonblockable, words(1, 2, 3, 4))
	// A second full-capacity write with no reads in between wraps the
	// buffer completely, leaving the reader's cursor stranded behind the
	// new writeStart.
	r.Write(Nonblockable, words(5, 6, 7, 8))

	n, res := rd.Read(make([]byte, 4*word))
	if res != Overrun {
		t.Fatalf("got n=%d res=%v, want Overrun", n, res)
	}
}

func TestNonblockingNeverOverwritesUnconsumedData(t *testing.T) {
	r := New(4*word, word, 1)
	rd, _ := r.NewReader()

	n, blocked := r.Write(Nonblocking, words(1, 2, 3, 4))
	if blocked || n != 4*word {
		t.Fatalf("first write: n=%d blocked=%v", n, blocked)
	}
	// Reader hasn't consumed anything yet; ring is full. A further
	// Nonblocking write must write nothing rather than clobber data.
	n, blocked = r.Write(Nonblocking, words(5))
	if n != 0 {
		t.Fatalf("second write: n=%d, want 0 (no headroom)", n)
	}

	buf := make([]byte, 4*word)
	n, res := rd.Read(buf)
	if res != ReadOK || n != 4*word {
		t.Fatalf("read: n=%d res=%v", n, res)
	}
	got := readWords(t, buf)
	if got[0] != 1 || got[3] != 4 {
		t.Fatalf("got %v, want original 4 words intact", got)
	}
}

func TestAllOrNothingBlocksWhenRequestExceedsHeadroom(t *testing.T) {
	r := New(4*word, word, 1)
	rd, _ := r.NewReader()

	r.Write(Nonblocking, words(1, 2, 3))
	n, blocked := r.Write(AllOrNothing, words(4, 5))
	if !blocked || n != 0 {
		t.Fatalf("got n=%d blocked=%v, want WouldBlock", n, blocked)
	}

	// Reader drains one word, freeing exactly enough headroom.
	rd.Read(make([]byte, word))
	n, blocked = r.Write(AllOrNothing, words(4, 5))
	if blocked || n != 2*word {
		t.Fatalf("got n=%d blocked=%v, want success", n, blocked)
	}
}

func TestSeekAbsoluteRepositionsReader(t *testing.T) {
	r := New(8*word, word, 1)
	rd, _ := r.NewReader()
	r.Write(Nonblockable, words(1, 2, 3, 4, 5))

	if err := rd.Seek(Absolute, 3); err != nil {
		t.Fatalf("seek: %v", err)
	}
	buf := make([]byte, word)
	n, res := rd.Read(buf)
	if res != ReadOK || n != word {
		t.Fatalf("read after seek: n=%d res=%v", n, res)
	}
	got := readWords(t, buf)
	if got[0] != 4 {
		t.Fatalf("got %v, want word at absolute index 3 (value 4)", got)
	}
}

func TestSeekToOverwrittenDataRejected(t *testing.T) {
	r := New(4*word, word, 1)
	rd, _ := r.NewReader()
	r.Write(Nonblockable, words(1, 2, 3, 4))
	r.Write(Nonblockable, words(5, 6, 7, 8)) // wraps, word at absolute index 0 is gone

	if err := rd.Seek(Absolute, 0); err == nil {
		t.Fatalf("expected error seeking to overwritten data")
	}
}

func TestTwoReadersAreIndependent(t *testing.T) {
	r := New(4*word, word, 2)
	slow, _ := r.NewReader()
	fast, _ := r.NewReader()

	r.Write(Nonblocking, words(1, 2, 3))

	buf := make([]byte, 3*word)
	fast.Read(buf)

	// The slow reader hasn't consumed anything; a Nonblocking write must
	// still respect its cursor, not the fast reader's, leaving only 1 of
	// the 4-word capacity free (4 - 3 unconsumed-by-slow).
	n, blocked := r.Write(Nonblocking, words(4, 5, 6, 7, 8))
	if blocked {
		t.Fatalf("unexpected block")
	}
	if n != word {
		t.Fatalf("got n=%d, want exactly the remaining headroom (1 word) before the slow reader's cursor", n)
	}

	got := make([]byte, 3*word)
	n2, res := slow.Read(got)
	if res != ReadOK || n2 != 3*word {
		t.Fatalf("slow read: n=%d res=%v", n2, res)
	}
}

func TestTooManyReadersRejected(t *testing.T) {
	r := New(4*word, word, 1)
	if _, err := r.NewReader(); err != nil {
		t.Fatalf("first NewReader: %v", err)
	}
	if _, err := r.NewReader(); err != ErrTooManyReaders {
		t.Fatalf("got %v, want ErrTooManyReaders", err)
	}
}

func TestCloseFreesReaderSlot(t *testing.T) {
	r := New(4*word, word, 1)
	rd, _ := r.NewReader()
	rd.Close()

	if _, err := r.NewReader(); err != nil {
		t.Fatalf("expected slot reuse after Close, got %v", err)
	}
}
