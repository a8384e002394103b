package directive

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRegistryDispatchesRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	var gotSeq, gotIndex uint32
	r.Register(SetVolume, func(payload json.RawMessage, seq, index uint32) error {
		gotSeq, gotIndex = seq, index
		return nil
	})

	if err := r.Dispatch(SetVolume, json.RawMessage(`{"volume":10}`), 7, 2); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if gotSeq != 7 || gotIndex != 2 {
		t.Fatalf("got seq=%d index=%d", gotSeq, gotIndex)
	}
}

func TestRegistryUnregisteredNameReturnsErrUnsupported(t *testing.T) {
	r := NewRegistry()
	err := r.Dispatch(SetVolume, nil, 0, 0)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestSetAlertPayloadMissingTokenIsInvalid(t *testing.T) {
	var p SetAlertPayload
	if err := json.Unmarshal([]byte(`{"scheduledTime":1,"durationInMilliseconds":2,"type":"alarm"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Valid() {
		t.Fatal("expected a SetAlert without a token to be invalid")
	}
}

func TestSetAlertPayloadWithTokenIsValid(t *testing.T) {
	var p SetAlertPayload
	if err := json.Unmarshal([]byte(`{"token":"abcd1234","scheduledTime":1,"durationInMilliseconds":2,"type":"alarm"}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Valid() {
		t.Fatal("expected a SetAlert with a token to be valid")
	}
}
