// PahoClient adapts github.com/eclipse/paho.mqtt.golang to the
// MQTTClient boundary above. It is the application shell's concrete
// choice of MQTT library; internal/dispatcher and the emitters never
// import paho directly, only this package's MQTTClient interface.
//
// Grounded on client/transport.go's Transporter adapter shape (a thin
// struct wrapping a third-party connection handle, translating its
// async callback style into the narrow interface the rest of the
// client depends on) and on paho.mqtt.golang's presence in the pack's
// tphakala-birdnet-go, LumenPrima-tr-engine, and madpsy-ka9q_ubersdr
// manifests as the ecosystem's default MQTT client.
package transport

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// qos0 is the only QoS level this protocol's wire format uses.
const qos0 = byte(0)

// PahoClient is the production MQTTClient, backed by a single
// long-lived paho connection.
type PahoClient struct {
	opts   *paho.ClientOptions
	client paho.Client
}

// PahoConfig configures a PahoClient's broker connection.
type PahoConfig struct {
	// BrokerURL is a paho-style URL, e.g. "tcp://host:8883" or
	// "ssl://host:8883".
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// ConnectTimeout bounds how long Connect waits for the broker
	// handshake to complete.
	ConnectTimeout time.Duration
}

// NewPahoClient builds a PahoClient from cfg. The underlying paho
// client is not connected until Connect is called.
func NewPahoClient(cfg PahoConfig) *PahoClient {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	return &PahoClient{opts: opts, client: paho.NewClient(opts)}
}

// Connect implements MQTTClient.
func (p *PahoClient) Connect(ctx context.Context) error {
	token := p.client.Connect()
	return waitToken(ctx, token)
}

// Disconnect implements MQTTClient.
func (p *PahoClient) Disconnect() {
	p.client.Disconnect(250)
}

// Publish implements MQTTClient. QoS 0, retain=false throughout.
func (p *PahoClient) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, qos0, false, payload)
	token.Wait()
	return token.Error()
}

// Subscribe implements MQTTClient.
func (p *PahoClient) Subscribe(topic string, handler MessageHandler) error {
	cb := func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	}
	token := p.client.Subscribe(topic, qos0, cb)
	token.Wait()
	return token.Error()
}

// waitToken blocks on token until it completes or ctx is done,
// whichever comes first.
func waitToken(ctx context.Context, token paho.Token) error {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("transport: %w", ctx.Err())
	}
}
