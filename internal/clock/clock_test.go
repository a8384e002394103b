package clock

import (
	"strconv"
	"testing"
	"time"
)

func TestNowWithZeroOffsetMatchesLocalClock(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(nil)
	m.now = func() time.Time { return fixed }

	if !m.Now().Equal(fixed) {
		t.Fatalf("got %v, want %v", m.Now(), fixed)
	}
}

func TestOnSetClockAppliesOffset(t *testing.T) {
	local := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(nil)
	m.now = func() time.Time { return local }

	server := local.Add(5 * time.Second)
	payload := []byte(`{"currentTime":` + strconv.FormatInt(server.UnixMilli(), 10) + `}`)

	if err := m.OnSetClock(payload, 1, 0); err != nil {
		t.Fatalf("OnSetClock: %v", err)
	}
	if got := m.Now(); !got.Equal(server) {
		t.Fatalf("got %v, want %v", got, server)
	}
}

func TestOnSetClockOverwritesNotSmooths(t *testing.T) {
	local := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(nil)
	m.now = func() time.Time { return local }

	m.OnSetClock([]byte(`{"currentTime":`+strconv.FormatInt(local.Add(10*time.Second).UnixMilli(), 10)+`}`), 1, 0)
	m.OnSetClock([]byte(`{"currentTime":`+strconv.FormatInt(local.Add(3*time.Second).UnixMilli(), 10)+`}`), 2, 0)

	want := local.Add(3 * time.Second)
	if got := m.Now(); !got.Equal(want) {
		t.Fatalf("second SetClock should fully replace the offset: got %v, want %v", got, want)
	}
}

func TestOnSetClockRejectsMalformedPayload(t *testing.T) {
	m := New(nil)
	if err := m.OnSetClock([]byte(`not json`), 1, 0); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

