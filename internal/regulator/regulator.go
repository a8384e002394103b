// Package regulator implements the per-topic outbound chunk aggregator:
// it buffers chunks for one topic and hands them to an emission
// callback in size-bounded batches, no faster than a configured minimum
// interval. Modeled on server/recording.go's timer-driven
// single-purpose components (its time.AfterFunc use) and
// client/audio.go's AudioEngine, whose atomic/mutex split between
// hot-path state and configuration this package mirrors.
package regulator

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aia-voice/deviceclient/internal/message"
)

// Mode selects the Regulator's emission strategy.
type Mode int

const (
	// Trickle emits as soon as possible, subject to MinWait.
	Trickle Mode = iota
	// Burst additionally delays emission up to MinWait after the first
	// write to an empty buffer, hoping to fill a frame.
	Burst
)

// ErrTooLarge is returned by Write when a chunk exceeds MaxMessageSize.
var ErrTooLarge = errors.New("regulator: chunk exceeds max message size")

// EmitFunc delivers one chunk of a batch. remainingBytes/remainingChunks
// describe what is left in the batch *after* this chunk; both are zero on
// the last callback of a batch. Returning true transfers ownership of the
// chunk (it has been consumed); returning false aborts the rest of the
// batch and the chunk (and everything after it) is preserved in the queue.
type EmitFunc func(chunk message.Chunk, remainingBytes, remainingChunks int) bool

// Config holds the Regulator's tuning knobs.
type Config struct {
	MaxMessageSize int
	MinWaitMs      int
	Mode           Mode
}

// Regulator buffers outbound chunks for one topic.
type Regulator struct {
	cfg    Config
	emit   EmitFunc
	logger *slog.Logger

	// now is overridable for deterministic tests; defaults to time.Now.
	now func() time.Time

	mu         sync.Mutex
	queue      []message.Chunk
	firstWrite time.Time
	timer      *time.Timer
	destroyed  bool
	mode       Mode

	// limiter enforces the minimum inter-emission interval. A single
	// token bucket of burst 1 refilling every MinWaitMs is equivalent to
	// the hand-rolled "now - lastEmit < minWait" gate it replaces, but
	// gives the steady-state check a well-tested primitive instead of
	// manual interval arithmetic.
	limiter *rate.Limiter
}

// New creates a Regulator that delivers batches to emit.
func New(cfg Config, emit EmitFunc, logger *slog.Logger) *Regulator {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.MinWaitMs > 0 {
		limit = rate.Every(time.Duration(cfg.MinWaitMs) * time.Millisecond)
	}
	return &Regulator{
		cfg:     cfg,
		emit:    emit,
		logger:  logger,
		now:     time.Now,
		mode:    cfg.Mode,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// minWait returns the configured minimum wait as a Duration.
func (r *Regulator) minWait() time.Duration {
	return time.Duration(r.cfg.MinWaitMs) * time.Millisecond
}

// Write appends chunk to the queue, transferring ownership on success.
// It fails if chunk.Size exceeds MaxMessageSize or the Regulator has
// been destroyed.
func (r *Regulator) Write(chunk message.Chunk) (bool, error) {
	if chunk.Size > r.cfg.MaxMessageSize {
		return false, ErrTooLarge
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return false, errors.New("regulator: destroyed")
	}
	wasEmpty := len(r.queue) == 0
	r.queue = append(r.queue, chunk)
	now := r.now()
	if wasEmpty {
		r.firstWrite = now
	}
	d := r.nextDelayLocked(now)
	r.mu.Unlock()

	r.armTimer(d)
	return true, nil
}

// SetEmitMode switches between Trickle and Burst.
func (r *Regulator) SetEmitMode(mode Mode) {
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
}

// canFillFrameLocked reports whether the queued payload bytes alone reach
// MaxMessageSize. Intentionally pessimistic: framing overhead may add more.
func (r *Regulator) canFillFrameLocked() bool {
	total := 0
	for _, c := range r.queue {
		total += c.Size
		if total >= r.cfg.MaxMessageSize {
			return true
		}
	}
	return false
}

// nextDelayLocked computes the re-arm delay from the rate limiter and
// the configured minimum wait. Caller must hold r.mu. It previews the
// limiter's next-available time without consuming a token: the real
// consumption happens in onTimerFire, at the moment an emission is
// actually attempted.
func (r *Regulator) nextDelayLocked(now time.Time) time.Duration {
	res := r.limiter.ReserveN(now, 1)
	d := res.DelayFrom(now)
	res.CancelAt(now)
	if d > 0 {
		return d
	}

	minWait := r.minWait()
	if r.mode == Burst && !r.canFillFrameLocked() {
		sinceWrite := now.Sub(r.firstWrite)
		if sinceWrite < minWait {
			return minWait - sinceWrite
		}
	}
	return 0
}

// armTimer (re)schedules the emission timer to fire after d.
func (r *Regulator) armTimer(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(d, r.onTimerFire)
}

// onTimerFire runs the batch emission protocol: drain what fits,
// publish it, and re-arm for whatever remains.
func (r *Regulator) onTimerFire() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}

	now := r.now()
	res := r.limiter.ReserveN(now, 1)
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		r.mu.Unlock()
		return
	}
	if len(r.queue) == 0 {
		res.CancelAt(now)
		r.mu.Unlock()
		return
	}

	batch := r.dequeueBatchLocked()
	r.mu.Unlock()

	leftover := r.deliverBatch(batch)

	r.mu.Lock()
	if len(leftover) > 0 {
		r.queue = append(leftover, r.queue...)
	}
	if len(r.queue) > 0 {
		r.timer = time.AfterFunc(r.minWait(), r.onTimerFire)
	} else {
		r.timer = nil
	}
	r.mu.Unlock()
}

// dequeueBatchLocked removes and returns a maximal prefix of the queue
// whose aggregate size does not exceed MaxMessageSize. Caller holds r.mu.
func (r *Regulator) dequeueBatchLocked() []message.Chunk {
	total := 0
	i := 0
	for i < len(r.queue) {
		next := total + r.queue[i].Size
		if i > 0 && next > r.cfg.MaxMessageSize {
			break
		}
		total = next
		i++
	}
	batch := r.queue[:i]
	r.queue = r.queue[i:]
	return batch
}

// deliverBatch invokes r.emit for each chunk in batch, outside any held
// lock. It returns the chunks (if any) that must be preserved because the
// callback aborted the batch partway through.
func (r *Regulator) deliverBatch(batch []message.Chunk) []message.Chunk {
	for i, c := range batch {
		remaining := batch[i+1:]
		remainingBytes := 0
		for _, rc := range remaining {
			remainingBytes += rc.Size
		}
		ok := r.emit(c, remainingBytes, len(remaining))
		if !ok {
			return batch[i:]
		}
	}
	return nil
}

// Destroy stops the timer and drains all queued chunks through destroyChunk.
func (r *Regulator) Destroy(destroyChunk func(message.Chunk)) {
	r.mu.Lock()
	r.destroyed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	if destroyChunk != nil {
		for _, c := range queue {
			destroyChunk(c)
		}
	}
}

// QueueLen reports the number of chunks currently queued (test/diagnostic use).
func (r *Regulator) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
