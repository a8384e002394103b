package ux

import (
	"encoding/json"
	"testing"
)

func TestNewStartsIdle(t *testing.T) {
	m := New()
	state, offset := m.Current()
	if state != Idle || offset != 0 {
		t.Fatalf("got state=%v offset=%d, want Idle/0", state, offset)
	}
}

func TestSetStateUpdatesCurrent(t *testing.T) {
	m := New()
	m.SetState(Speaking, 42)
	state, offset := m.Current()
	if state != Speaking || offset != 42 {
		t.Fatalf("got state=%v offset=%d, want Speaking/42", state, offset)
	}
}

func TestOnSetAttentionStateParsesPayload(t *testing.T) {
	m := New()
	err := m.OnSetAttentionState(json.RawMessage(`{"state":"THINKING","offset":7}`), 1, 0)
	if err != nil {
		t.Fatalf("OnSetAttentionState: %v", err)
	}
	state, offset := m.Current()
	if state != Thinking || offset != 7 {
		t.Fatalf("got state=%v offset=%d, want Thinking/7", state, offset)
	}
}

func TestOnSetAttentionStateRejectsMalformedPayload(t *testing.T) {
	m := New()
	if err := m.OnSetAttentionState(json.RawMessage(`not json`), 1, 0); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}
