// Package message defines the two wire message kinds the protocol core
// moves around: JSON control messages and binary audio records.
package message

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a binary record's declared length exceeds
// the bytes available to parse.
var ErrTruncated = errors.New("message: truncated binary record")

// Message is the common interface for anything the Regulator and Emitter
// move: something with a known serialized byte size that can marshal
// itself onto the wire.
type Message interface {
	// Size is the fully serialized byte count (JSON: no terminator;
	// binary: length+8).
	Size() int
	Marshal() ([]byte, error)
}

// Header is the JSON message header: {"name":..., "messageId":...}.
type Header struct {
	Name      string `json:"name"`
	MessageID string `json:"messageId"`
}

// JSON is a JSON-kind message: {"header":{...}[,"payload":{...}]}.
type JSON struct {
	Name      string
	MessageID string
	// Payload is the raw UTF-8 JSON object, or nil for "none".
	Payload json.RawMessage
}

type jsonWire struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal serializes m to {"header":{"name":N,"messageId":M}[,"payload":P]}.
func (m *JSON) Marshal() ([]byte, error) {
	w := jsonWire{Header: Header{Name: m.Name, MessageID: m.MessageID}}
	if len(m.Payload) > 0 {
		w.Payload = m.Payload
	}
	return json.Marshal(w)
}

// Size returns the serialized byte count with no terminator.
func (m *JSON) Size() int {
	b, err := m.Marshal()
	if err != nil {
		return 0
	}
	return len(b)
}

// ParseJSON decodes a single JSON message from its wire form.
func ParseJSON(b []byte) (*JSON, error) {
	var w jsonWire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("parse json message: %w", err)
	}
	if w.Header.Name == "" {
		return nil, fmt.Errorf("parse json message: missing header.name")
	}
	return &JSON{Name: w.Header.Name, MessageID: w.Header.MessageID, Payload: w.Payload}, nil
}

// binaryHeaderLen is length(4) + type(1) + count(1) + reserved(2).
const binaryHeaderLen = 8

// Binary is a binary-kind message: length:u32 LE, type:u8, count:u8,
// 2 reserved zero bytes, then length bytes of data.
type Binary struct {
	Type  uint8
	Count uint8
	Data  []byte
}

// Size returns len(Data) + 8, the binary message's total wire size.
func (m *Binary) Size() int {
	return len(m.Data) + binaryHeaderLen
}

// Marshal serializes m to its wire form.
func (m *Binary) Marshal() ([]byte, error) {
	buf := make([]byte, binaryHeaderLen+len(m.Data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(m.Data)))
	buf[4] = m.Type
	buf[5] = m.Count
	// buf[6:8] reserved, left zero.
	copy(buf[8:], m.Data)
	return buf, nil
}

// ParseBinary decodes one binary record from the front of b and returns the
// message plus the number of bytes consumed. Used in a loop to walk the
// concatenated records on the microphone/speaker topics.
func ParseBinary(b []byte) (*Binary, int, error) {
	if len(b) < binaryHeaderLen {
		return nil, 0, ErrTruncated
	}
	length := binary.LittleEndian.Uint32(b[0:4])
	typ := b[4]
	count := b[5]
	total := binaryHeaderLen + int(length)
	if len(b) < total {
		return nil, 0, ErrTruncated
	}
	data := make([]byte, length)
	copy(data, b[8:total])
	return &Binary{Type: typ, Count: count, Data: data}, total, nil
}

// ParseBinaryRecords decodes every concatenated binary record in b.
func ParseBinaryRecords(b []byte) ([]*Binary, error) {
	var out []*Binary
	for len(b) > 0 {
		m, n, err := ParseBinary(b)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
		b = b[n:]
	}
	return out, nil
}

// Chunk is the unit the Regulator manages: a Message plus its byte size,
// captured once at enqueue time so aggregation arithmetic never re-marshals.
type Chunk struct {
	Msg  Message
	Size int
}

// NewChunk wraps m, computing its size once.
func NewChunk(m Message) Chunk {
	return Chunk{Msg: m, Size: m.Size()}
}

// ParseJSONArray extracts the elements of a {"<arrayName>":[...]} envelope,
// the inverse of JoinJSONArray.
func ParseJSONArray(arrayName string, b []byte) ([]json.RawMessage, error) {
	var w map[string][]json.RawMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("parse json array: %w", err)
	}
	elems, ok := w[arrayName]
	if !ok {
		return nil, fmt.Errorf("parse json array: missing %q", arrayName)
	}
	return elems, nil
}

// JoinJSONArray assembles a JSON envelope {"<arrayName>":[m1,m2,...]} from
// already-marshaled JSON message bodies, matching the frame-on-the-wire
// layout.
func JoinJSONArray(arrayName string, bodies [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteByte('"')
	buf.WriteString(arrayName)
	buf.WriteString(`":[`)
	for i, b := range bodies {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(b)
	}
	buf.WriteString("]}")
	return buf.Bytes()
}
