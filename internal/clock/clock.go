// Package clock maintains a device-local estimate of server time, as a
// single offset applied to the local monotonic clock. Unlike
// client/transport.go's pingLoop RTT smoothing, a SetClock directive is
// a single authoritative sample from the service, not a noisy repeated
// one, so it overwrites the offset outright rather than feeding an EWMA.
package clock

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Manager tracks the offset between local and server time.
type Manager struct {
	logger *slog.Logger

	// offsetNanos is server-time-minus-local-time, in nanoseconds, stored
	// as an atomic int64 so Now() never blocks on a directive handler.
	offsetNanos atomic.Int64

	// now is overridable for deterministic tests.
	now func() time.Time
}

// New creates a Manager with a zero offset (local time is assumed
// correct until the first SetClock directive arrives).
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, now: time.Now}
}

// Now returns the device's current best estimate of server time.
func (m *Manager) Now() time.Time {
	return m.now().Add(time.Duration(m.offsetNanos.Load()))
}

// Offset returns the current local-to-server offset.
func (m *Manager) Offset() time.Duration {
	return time.Duration(m.offsetNanos.Load())
}

// OnSetClock is the directive.Handler for SetClock: it replaces the
// offset outright with the server's reported current time.
func (m *Manager) OnSetClock(payload json.RawMessage, seq, index uint32) error {
	var p struct {
		CurrentTime uint64 `json:"currentTime"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	serverTime := time.UnixMilli(int64(p.CurrentTime))
	offset := serverTime.Sub(m.now())
	m.offsetNanos.Store(int64(offset))
	m.logger.Debug("clock: offset updated", "offset", offset, "seq", seq, "index", index)
	return nil
}
