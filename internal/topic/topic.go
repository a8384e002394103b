// Package topic is the closed enumeration of MQTT topics the device speaks
// on, plus the per-topic attributes the rest of the core consults.
package topic

import (
	"fmt"
	"strings"
)

// Topic is a closed enumeration over the device's MQTT topic set.
type Topic int

const (
	ConnectionFromClient Topic = iota
	ConnectionFromService
	CapabilitiesPublish
	CapabilitiesAcknowledge
	Directive
	Event
	Microphone
	Speaker
)

// Direction is the flow of a topic relative to the device.
type Direction int

const (
	In Direction = iota
	Out
)

// Kind distinguishes the two Message encodings a topic carries.
type Kind int

const (
	JSONKind Kind = iota
	BinaryKind
)

// Attributes describes one topic's fixed properties.
type Attributes struct {
	Direction Direction
	Encrypted bool
	Kind      Kind
	// Suffix is the MQTT topic suffix appended to the device's topic root.
	Suffix string
}

var table = map[Topic]Attributes{
	ConnectionFromClient:    {Direction: Out, Encrypted: false, Kind: JSONKind, Suffix: "connection/fromclient"},
	ConnectionFromService:   {Direction: In, Encrypted: false, Kind: JSONKind, Suffix: "connection/fromservice"},
	CapabilitiesPublish:     {Direction: Out, Encrypted: false, Kind: JSONKind, Suffix: "capabilities/publish"},
	CapabilitiesAcknowledge: {Direction: In, Encrypted: true, Kind: JSONKind, Suffix: "capabilities/acknowledge"},
	Directive:               {Direction: In, Encrypted: true, Kind: JSONKind, Suffix: "directive"},
	Event:                   {Direction: Out, Encrypted: true, Kind: JSONKind, Suffix: "event"},
	Microphone:              {Direction: Out, Encrypted: true, Kind: BinaryKind, Suffix: "microphone"},
	Speaker:                 {Direction: In, Encrypted: true, Kind: BinaryKind, Suffix: "speaker"},
}

// All enumerates every known topic, used by components that must register
// per-topic state (e.g. SecretManager's known-topic set).
func All() []Topic {
	return []Topic{
		ConnectionFromClient, ConnectionFromService,
		CapabilitiesPublish, CapabilitiesAcknowledge,
		Directive, Event, Microphone, Speaker,
	}
}

// Attributes returns t's fixed attributes. Panics on an unknown Topic value,
// since the enumeration is closed and every caller constructs Topic values
// from this package's constants.
func (t Topic) Attributes() Attributes {
	a, ok := table[t]
	if !ok {
		panic(fmt.Sprintf("topic: unknown topic value %d", int(t)))
	}
	return a
}

// String returns the MQTT suffix for t.
func (t Topic) String() string {
	return t.Attributes().Suffix
}

// FromSuffix recognizes a topic by suffix-match against the known topic
// strings.
func FromSuffix(suffix string) (Topic, bool) {
	for t, a := range table {
		if a.Suffix == suffix {
			return t, true
		}
	}
	return 0, false
}

// Match recognizes a topic from a full MQTT topic string by suffix-matching
// against the device topic root plus each known topic suffix. An unknown
// topic (no suffix matches) returns ok=false so the caller can drop it.
func Match(fullTopic string) (Topic, bool) {
	for t, a := range table {
		if strings.HasSuffix(fullTopic, a.Suffix) {
			return t, true
		}
	}
	return 0, false
}
