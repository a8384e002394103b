// Command aiaclientd is the thin wiring binary that assembles the
// protocol core (internal/device) with concrete collaborators: a
// paho-backed MQTT transport, PortAudio capture/playback, an Opus
// codec, and a file-backed secret/topic-root/alert store.
//
// Grounded on server/main.go's flag-parse-then-construct-then-run shape
// and signal-driven shutdown, reworked from net/http serving to a
// single long-lived MQTT session. Flags use github.com/spf13/pflag
// rather than server/main.go's stdlib flag, following doismellburning-samoyed.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/aia-voice/deviceclient/internal/audio"
	"github.com/aia-voice/deviceclient/internal/config"
	"github.com/aia-voice/deviceclient/internal/device"
	"github.com/aia-voice/deviceclient/internal/ring"
	"github.com/aia-voice/deviceclient/internal/services"
	"github.com/aia-voice/deviceclient/internal/transport"
)

// opusBitrate targets a conservative voice bitrate for the microphone
// uplink, matching client/audio.go's own encoder tuning for a
// bandwidth-constrained link.
const opusBitrate = 24000

func main() {
	configPath := pflag.String("config", "/etc/aiaclientd/config.json", "path to the device config file")
	broker := pflag.String("broker", "", "MQTT broker address, host:port (overrides the config file)")
	topicRoot := pflag.String("topic-root", "", "topic root to use on first run, before one is persisted")
	clientID := pflag.String("client-id", "", "MQTT client ID (defaults to a random ID)")
	username := pflag.String("username", "", "MQTT username, if the broker requires one")
	password := pflag.String("password", "", "MQTT password, if the broker requires one")
	insecureTLS := pflag.Bool("insecure-tls", false, "use a plaintext tcp:// broker URL instead of ssl://")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("aiaclientd: load config", "err", err)
		os.Exit(1)
	}
	if *broker != "" {
		cfg.BrokerAddress = *broker
	}

	if err := run(cfg, *topicRoot, *clientID, *username, *password, *insecureTLS, logger); err != nil {
		logger.Error("aiaclientd: fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, topicRootFlag, clientID, username, password string, insecureTLS bool, logger *slog.Logger) error {
	store, err := services.NewFileStore(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open state directory: %w", err)
	}

	if topicRootFlag == "" {
		topicRootFlag = randomTopicRoot()
	}
	if clientID == "" {
		clientID = "aiaclientd-" + randomHex(4)
	}

	scheme := "ssl"
	if insecureTLS {
		scheme = "tcp"
	}
	mqttClient := transport.NewPahoClient(transport.PahoConfig{
		BrokerURL: fmt.Sprintf("%s://%s", scheme, cfg.BrokerAddress),
		ClientID:  clientID,
		Username:  username,
		Password:  password,
	})

	capture := audio.NewCaptureSource(cfg.InputDeviceID, nil, ring.Nonblockable)
	playback := audio.NewPlaybackSink(cfg.OutputDeviceID)
	decoder, err := audio.NewOpusDecoder()
	if err != nil {
		return fmt.Errorf("create opus decoder: %w", err)
	}
	encoder, err := audio.NewOpusEncoder(opusBitrate)
	if err != nil {
		return fmt.Errorf("create opus encoder: %w", err)
	}

	app, err := device.New(cfg, topicRootFlag, device.Collaborators{
		Transport: mqttClient,
		Store:     store,
		Capture:   capture,
		Playback:  playback,
		Decoder:   decoder,
		Encoder:   encoder,
	}, logger)
	if err != nil {
		return fmt.Errorf("construct device: %w", err)
	}

	// capture's ring is owned by the device once constructed; rewire the
	// capture source onto it the same way a microphone actually writes
	// into the ring the device's microphone streamer drains into the
	// microphone regulator.
	capture.SetRing(app.MicrophoneRing())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start device: %w", err)
	}
	logger.Info("aiaclientd: running", "broker", cfg.BrokerAddress, "topic_root", topicRootFlag)

	<-ctx.Done()
	logger.Info("aiaclientd: shutting down")
	app.Stop()
	return nil
}

func randomTopicRoot() string {
	return "aia/device/" + randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}
