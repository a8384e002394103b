package regulator

import (
	"sync"
	"testing"
	"time"

	"github.com/aia-voice/deviceclient/internal/message"
)

type fakeMsg struct {
	size int
}

func (f fakeMsg) Size() int                 { return f.size }
func (f fakeMsg) Marshal() ([]byte, error) { return make([]byte, f.size), nil }

func chunkOf(n int) message.Chunk {
	return message.NewChunk(fakeMsg{size: n})
}

type recordedEmit struct {
	mu    sync.Mutex
	calls []message.Chunk
	times []time.Time
}

func (r *recordedEmit) fn(c message.Chunk, remainingBytes, remainingChunks int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	r.times = append(r.times, time.Now())
	return true
}

func (r *recordedEmit) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestWriteOversizeRejected(t *testing.T) {
	rec := &recordedEmit{}
	reg := New(Config{MaxMessageSize: 200, MinWaitMs: 150, Mode: Trickle}, rec.fn, nil)

	ok, err := reg.Write(chunkOf(201))
	if ok || err != ErrTooLarge {
		t.Fatalf("expected rejection, got ok=%v err=%v", ok, err)
	}

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("expected no emission, got %d", rec.count())
	}
}

func TestBurstTwoRuntsEmitTogether(t *testing.T) {
	rec := &recordedEmit{}
	reg := New(Config{MaxMessageSize: 200, MinWaitMs: 150, Mode: Burst}, rec.fn, nil)

	start := time.Now()
	if ok, err := reg.Write(chunkOf(50)); !ok || err != nil {
		t.Fatalf("write 1: ok=%v err=%v", ok, err)
	}
	if ok, err := reg.Write(chunkOf(50)); !ok || err != nil {
		t.Fatalf("write 2: ok=%v err=%v", ok, err)
	}

	deadline := time.After(500 * time.Millisecond)
	for rec.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for emission, got %d calls", rec.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	elapsed := rec.times[0].Sub(start)
	if elapsed < 150*time.Millisecond || elapsed >= 300*time.Millisecond {
		t.Fatalf("first emission at %v, want within [150ms, 300ms)", elapsed)
	}
	if rec.count() != 2 {
		t.Fatalf("expected both chunks in one batch, got %d calls", rec.count())
	}
}

func TestTrickleMinIntervalBetweenEmissions(t *testing.T) {
	rec := &recordedEmit{}
	reg := New(Config{MaxMessageSize: 10, MinWaitMs: 80, Mode: Trickle}, rec.fn, nil)

	// Each chunk alone fills a frame (size 10 == max), so each Write should
	// trigger its own batch once the min-wait gate allows it.
	reg.Write(chunkOf(10))
	time.Sleep(120 * time.Millisecond)
	reg.Write(chunkOf(10))
	time.Sleep(120 * time.Millisecond)

	if rec.count() != 2 {
		t.Fatalf("expected 2 emissions, got %d", rec.count())
	}
	gap := rec.times[1].Sub(rec.times[0])
	if gap < 80*time.Millisecond {
		t.Fatalf("emissions too close together: %v", gap)
	}
}

func TestDestroyDrainsQueue(t *testing.T) {
	rec := &recordedEmit{}
	// Large min-wait so nothing emits before Destroy runs.
	reg := New(Config{MaxMessageSize: 1000, MinWaitMs: 10_000, Mode: Trickle}, rec.fn, nil)
	reg.Write(chunkOf(10))
	reg.Write(chunkOf(10))

	var destroyed []message.Chunk
	reg.Destroy(func(c message.Chunk) { destroyed = append(destroyed, c) })

	if len(destroyed) != 2 {
		t.Fatalf("expected 2 destroyed chunks, got %d", len(destroyed))
	}
	if ok, err := reg.Write(chunkOf(5)); ok || err == nil {
		t.Fatalf("expected write after destroy to fail")
	}
}

func TestEmitCallbackAbortPreservesChunk(t *testing.T) {
	emit := func(c message.Chunk, remainingBytes, remainingChunks int) bool {
		return false // always abort; the chunk must never be dropped
	}
	reg := New(Config{MaxMessageSize: 1000, MinWaitMs: 10, Mode: Trickle}, emit, nil)
	reg.Write(chunkOf(10))

	time.Sleep(200 * time.Millisecond)
	if reg.QueueLen() != 1 {
		t.Fatalf("expected aborted chunk to remain queued, got queue len %d", reg.QueueLen())
	}
}
