// Package transport defines the boundary between the protocol core and
// the concrete MQTT client library. The core only ever sees this narrow
// interface; which MQTT library backs it (and its TLS/auth/reconnect
// policy) is the application shell's concern.
//
// Grounded on client/transport.go's Transporter-style shape (connect,
// send, callback setters) generalized from that WebTransport/QUIC
// session to a publish/subscribe topic model.
package transport

import "context"

// MessageHandler is invoked once per inbound MQTT publish, with the full
// topic string and the raw payload bytes.
type MessageHandler func(topic string, payload []byte)

// MQTTClient is the subset of an MQTT client library the dispatcher and
// emitters depend on. QoS 0 and retain=false are assumed throughout;
// the interface carries no QoS/retain parameters because the protocol
// core never varies them.
type MQTTClient interface {
	// Connect establishes the broker connection and blocks until it
	// either succeeds or ctx is done.
	Connect(ctx context.Context) error
	// Disconnect tears down the connection, waiting for in-flight
	// publishes to drain.
	Disconnect()
	// Publish sends payload on topic. Returns an error if the publish
	// could not be queued or was rejected by the broker.
	Publish(topic string, payload []byte) error
	// Subscribe registers handler for all messages arriving on topic.
	// internal/device calls Subscribe after Connect has succeeded.
	Subscribe(topic string, handler MessageHandler) error
}
