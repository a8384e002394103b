package message

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONRoundTrip(t *testing.T) {
	m := &JSON{Name: "SetVolume", MessageID: "abcd1234", Payload: json.RawMessage(`{"volume":10}`)}
	b, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if m.Size() != len(b) {
		t.Fatalf("size mismatch: Size()=%d len(b)=%d", m.Size(), len(b))
	}
	got, err := ParseJSON(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Name != m.Name || got.MessageID != m.MessageID {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
	if !bytes.Equal(got.Payload, m.Payload) {
		t.Fatalf("payload mismatch: got %s want %s", got.Payload, m.Payload)
	}
}

func TestJSONNoPayload(t *testing.T) {
	m := &JSON{Name: "CloseMicrophone", MessageID: "zzzz9999"}
	b, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.Contains(b, []byte(`"payload"`)) {
		t.Fatalf("expected no payload field, got %s", b)
	}
	got, err := ParseJSON(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("expected empty payload, got %s", got.Payload)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	m := &Binary{Type: 3, Count: 1, Data: []byte{0x01, 0x02, 0x03, 0x04}}
	b, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(b) != m.Size() {
		t.Fatalf("size mismatch: got %d want %d", len(b), m.Size())
	}
	if m.Size() != len(m.Data)+8 {
		t.Fatalf("size formula mismatch: got %d want %d", m.Size(), len(m.Data)+8)
	}
	got, n, err := ParseBinary(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != len(b) {
		t.Fatalf("consumed %d, want %d", n, len(b))
	}
	if got.Type != m.Type || got.Count != m.Count || !bytes.Equal(got.Data, m.Data) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestParseBinaryTruncated(t *testing.T) {
	if _, _, err := ParseBinary([]byte{0x01, 0x02}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	m := &Binary{Type: 1, Count: 1, Data: []byte{1, 2, 3}}
	b, _ := m.Marshal()
	if _, _, err := ParseBinary(b[:len(b)-1]); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated for short data, got %v", err)
	}
}

func TestParseBinaryRecordsConcatenated(t *testing.T) {
	m1 := &Binary{Type: 1, Count: 1, Data: []byte{0xAA}}
	m2 := &Binary{Type: 2, Count: 1, Data: []byte{0xBB, 0xCC}}
	b1, _ := m1.Marshal()
	b2, _ := m2.Marshal()
	all := append(append([]byte{}, b1...), b2...)

	got, err := ParseBinaryRecords(all)
	if err != nil {
		t.Fatalf("parse records: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Type != 1 || got[1].Type != 2 {
		t.Fatalf("unexpected record order: %+v", got)
	}
}

func TestJoinJSONArray(t *testing.T) {
	b1, _ := (&JSON{Name: "A", MessageID: "11111111"}).Marshal()
	b2, _ := (&JSON{Name: "B", MessageID: "22222222"}).Marshal()
	frame := JoinJSONArray("directives", [][]byte{b1, b2})

	var decoded struct {
		Directives []json.RawMessage `json:"directives"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if len(decoded.Directives) != 2 {
		t.Fatalf("expected 2 directives, got %d", len(decoded.Directives))
	}
}

func TestParseJSONArrayRoundTripsWithJoinJSONArray(t *testing.T) {
	b1, _ := (&JSON{Name: "A", MessageID: "11111111"}).Marshal()
	b2, _ := (&JSON{Name: "B", MessageID: "22222222"}).Marshal()
	frame := JoinJSONArray("directives", [][]byte{b1, b2})

	elems, err := ParseJSONArray("directives", frame)
	if err != nil {
		t.Fatalf("parse json array: %v", err)
	}
	if len(elems) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elems))
	}
	m0, err := ParseJSON(elems[0])
	if err != nil {
		t.Fatalf("parse element 0: %v", err)
	}
	if m0.Name != "A" {
		t.Fatalf("got name %q, want A", m0.Name)
	}
}

func TestParseJSONArrayMissingKey(t *testing.T) {
	if _, err := ParseJSONArray("directives", []byte(`{"events":[]}`)); err == nil {
		t.Fatal("expected an error for a missing array key")
	}
}
