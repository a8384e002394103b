// Package device wires the protocol core's collaborators into a single
// running application: the transport connection, the secret manager,
// the per-topic emitters/regulators and sequencers, the dispatcher, and
// every directive-handling manager. Grounded on client/app.go's App
// struct and its Start()/Stop() lifecycle, generalized from a desktop
// voice client's UI-driven wiring to this protocol's MQTT-topic-driven
// wiring.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aia-voice/deviceclient/internal/alert"
	"github.com/aia-voice/deviceclient/internal/capabilities"
	"github.com/aia-voice/deviceclient/internal/clock"
	"github.com/aia-voice/deviceclient/internal/config"
	"github.com/aia-voice/deviceclient/internal/connection"
	"github.com/aia-voice/deviceclient/internal/cryptoimpl"
	"github.com/aia-voice/deviceclient/internal/directive"
	"github.com/aia-voice/deviceclient/internal/dispatcher"
	"github.com/aia-voice/deviceclient/internal/emitter"
	"github.com/aia-voice/deviceclient/internal/exception"
	"github.com/aia-voice/deviceclient/internal/idgen"
	"github.com/aia-voice/deviceclient/internal/message"
	"github.com/aia-voice/deviceclient/internal/microphone"
	"github.com/aia-voice/deviceclient/internal/regulator"
	"github.com/aia-voice/deviceclient/internal/ring"
	"github.com/aia-voice/deviceclient/internal/secretmgr"
	"github.com/aia-voice/deviceclient/internal/sequencer"
	"github.com/aia-voice/deviceclient/internal/speaker"
	"github.com/aia-voice/deviceclient/internal/topic"
	"github.com/aia-voice/deviceclient/internal/transport"
	"github.com/aia-voice/deviceclient/internal/ux"
)

// Store is the persistence surface internal/device needs beyond what
// secretmgr.Store/alert.Store already name.
type Store interface {
	secretmgr.Store
	alert.Store
	LoadSecret() ([]byte, error)
	LoadAlerts() ([]alert.Record, error)
	SaveTopicRoot(root string) error
	LoadTopicRoot() (string, error)
}

// AudioCapture is the microphone data source, started/stopped alongside
// the App.
type AudioCapture interface {
	Start() error
	Stop()
}

// AudioPlayback is the speaker sink, started/stopped alongside the App
// and driven by speaker.Manager's consumer loop.
type AudioPlayback interface {
	Start() error
	Stop()
	speaker.Sink
}

// App bundles every collaborator the running device needs, the way
// client/app.go's App bundles a desktop session's transport, audio
// engine, and UI state.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	transport transport.MQTTClient
	topicRoot string

	secrets *secretmgr.SecretManager

	eventRegulator *regulator.Regulator
	eventEmitter   *emitter.Emitter
	micRegulator   *regulator.Regulator
	micEmitter     *emitter.Emitter
	capRegulator   *regulator.Regulator
	capEmitter     *emitter.Emitter
	connRegulator  *regulator.Regulator
	connEmitter    *emitter.Emitter

	directiveSeq *sequencer.Sequencer
	speakerSeq   *sequencer.Sequencer

	dispatcher *dispatcher.Dispatcher
	registry   *directive.Registry

	connection    *connection.Manager
	capabilities  *capabilities.Manager
	exceptionMgr  *exception.Manager
	clockMgr      *clock.Manager
	alertMgr      *alert.Manager
	uxMgr         *ux.Manager
	speakerMgr    *speaker.Manager
	microphoneMgr *microphone.Manager

	micRing       *ring.Ring
	micReader     *ring.Reader
	micStream     *microphoneStreamer
	capture       AudioCapture
	playback      AudioPlayback
}

// Collaborators are the device-specific concrete implementations the
// orchestrator cannot construct itself (I/O boundaries).
type Collaborators struct {
	Transport transport.MQTTClient
	Store     Store
	Capture   AudioCapture
	Playback  AudioPlayback
	Decoder   speaker.Decoder
	Encoder   MicrophoneEncoder
}

// MicrophoneEncoder turns one frame of captured PCM into an outbound
// binary payload (e.g. Opus).
type MicrophoneEncoder interface {
	Encode(pcm []byte) ([]byte, error)
}

// New builds an App from cfg and its collaborators, restoring any
// previously persisted secret, topic root, and alert set.
func New(cfg config.Config, topicRootDefault string, col Collaborators, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	root, err := col.Store.LoadTopicRoot()
	if err != nil {
		return nil, fmt.Errorf("device: load topic root: %w", err)
	}
	if root == "" {
		root = topicRootDefault
		if err := col.Store.SaveTopicRoot(root); err != nil {
			return nil, fmt.Errorf("device: persist topic root: %w", err)
		}
	}

	initialKey, err := col.Store.LoadSecret()
	if err != nil {
		return nil, fmt.Errorf("device: load secret: %w", err)
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		transport: col.Transport,
		topicRoot: root,
		capture:   col.Capture,
		playback:  col.Playback,
	}

	a.micRing = ring.New(cfg.MicrophoneRingBytes, 2, 1)
	a.micReader, err = a.micRing.NewReader()
	if err != nil {
		return nil, fmt.Errorf("device: attach microphone ring reader: %w", err)
	}

	// The secret manager and the encrypted-topic emitters need each
	// other: Encrypt/Decrypt need the secret manager's key state, and the
	// secret manager's outbound rotation boundaries need the emitters'
	// PeekNextSeq. fwd breaks the cycle by forwarding to a.secrets
	// once it exists; nothing calls Encrypt until Start(), long after
	// construction finishes.
	fwd := &secretsForwarder{}
	a.eventRegulator, a.eventEmitter = a.newOutboundPipeline(topic.Event, "events", fwd,
		regulator.Config{MaxMessageSize: cfg.EventMaxMessageSize, MinWaitMs: cfg.EventMinWaitMs, Mode: regulator.Trickle})
	a.micRegulator, a.micEmitter = a.newOutboundPipeline(topic.Microphone, "", fwd,
		regulator.Config{MaxMessageSize: cfg.MicrophoneMaxMessageSize, MinWaitMs: cfg.MicrophoneMinWaitMs, Mode: regulator.Burst})
	a.capRegulator, a.capEmitter = a.newOutboundPipeline(topic.CapabilitiesPublish, "", nil,
		regulator.Config{MaxMessageSize: 1 << 16, MinWaitMs: 0, Mode: regulator.Trickle})
	a.connRegulator, a.connEmitter = a.newOutboundPipeline(topic.ConnectionFromClient, "", nil,
		regulator.Config{MaxMessageSize: 1 << 16, MinWaitMs: 0, Mode: regulator.Trickle})

	a.secrets = secretmgr.New(secretmgr.Config{
		InitialKey:     initialKey,
		Cipher:         cryptoimpl.NewAESGCM(),
		Deriver:        cryptoimpl.NewHKDFDeriver(),
		Store:          col.Store,
		EventPeek:      a.eventEmitter,
		MicrophonePeek: a.micEmitter,
	}, logger.With("component", "secretmgr"))
	fwd.mgr = a.secrets

	a.exceptionMgr = exception.New(a.eventRegulator, logger.With("component", "exception"))
	a.clockMgr = clock.New(logger.With("component", "clock"))
	a.uxMgr = ux.New()
	a.alertMgr = alert.New(col.Store, a.exceptionMgr, logger.With("component", "alert"))
	if records, err := col.Store.LoadAlerts(); err == nil {
		a.alertMgr.LoadRecords(records)
	}

	a.connection = connection.New(func() { a.capabilities.Publish() }, logger.With("component", "connection"))
	a.capabilities = capabilities.New(a.capRegulator, logger.With("component", "capabilities"))

	a.speakerMgr = speaker.New(speaker.Config{
		RingBytes:            cfg.SpeakerRingBytes,
		FrameBytes:           cfg.SpeakerFrameBytes,
		Tick:                 20 * time.Millisecond,
		MinVolume:            cfg.MinVolume,
		MaxVolume:            cfg.MaxVolume,
		UnderrunBytes:        cfg.SpeakerFrameBytes,
		UnderrunWarningBytes: cfg.SpeakerFrameBytes * 2,
		OverrunWarningBytes:  cfg.SpeakerRingBytes - cfg.SpeakerFrameBytes*2,
		OverrunBytes:         cfg.SpeakerRingBytes - cfg.SpeakerFrameBytes,
		Decoder:              col.Decoder,
		Sink:                 col.Playback,
		Events:               a.eventRegulator,
	}, logger.With("component", "speaker"))
	a.speakerMgr.SetVolume(cfg.DefaultVolume)

	a.microphoneMgr = microphone.New(microphone.Config{
		Reader: a.micReader,
		Events: a.eventRegulator,
	}, logger.With("component", "microphone"))

	a.registry = directive.NewRegistry()
	a.registerDirectives()

	a.dispatcher = dispatcher.New(dispatcher.Config{
		Decrypter:         a.secrets,
		Registry:          a.registry,
		Reporter:          a.exceptionMgr,
		ConnectionHandler: a.connection.OnConnectionMessage,
		CapabilitiesAck: func(payload []byte) {
			logger.Debug("device: capabilities acknowledged", "bytes", len(payload))
		},
		SpeakerHandler: func(rec *message.Binary, seq, index uint32) {
			a.speakerMgr.OnFrame(rec, seq, index)
		},
	}, logger.With("component", "dispatcher"))

	a.directiveSeq = sequencer.New(
		cfg.DirectiveSequencerSlots,
		time.Duration(cfg.DirectiveGapTimeoutMs)*time.Millisecond,
		a.dispatcher.OnDirectiveFrame,
		func(seq uint32) {
			a.exceptionMgr.MalformedMessage(fmt.Sprintf("directive sequence %d timed out waiting for gap", seq), topic.Directive.String(), seq, 0)
		},
		logger.With("component", "sequencer.directive"))
	a.speakerSeq = sequencer.New(
		cfg.SpeakerSequencerSlots,
		time.Duration(cfg.SpeakerGapTimeoutMs)*time.Millisecond,
		a.dispatcher.OnSpeakerFrame,
		func(seq uint32) {
			a.exceptionMgr.MalformedMessage(fmt.Sprintf("speaker sequence %d timed out waiting for gap", seq), topic.Speaker.String(), seq, 0)
		},
		logger.With("component", "sequencer.speaker"))
	a.dispatcher.SetDirectiveSequencer(a.directiveSeq)
	a.dispatcher.SetSpeakerSequencer(a.speakerSeq)

	a.micStream = newMicrophoneStreamer(a.micReader, cfg.MicrophoneFrameBytes, col.Encoder, a.micRegulator, a.microphoneMgr, logger.With("component", "micstream"))

	return a, nil
}

// newOutboundPipeline builds the (Regulator, Emitter) pair for one
// outbound topic, wired so Regulator.Write is the component-facing
// front door and Emitter.EmitChunk is its batch-delivery callback.
// secrets may be nil for topics left unencrypted.
func (a *App) newOutboundPipeline(t topic.Topic, arrayName string, secrets emitter.SecretManager, regCfg regulator.Config) (*regulator.Regulator, *emitter.Emitter) {
	em := emitter.New(emitter.Config{Topic: t, ArrayName: arrayName, MaxMessageSize: regCfg.MaxMessageSize}, a.publishFunc(t), secrets, a.logger.With("topic", t))
	reg := regulator.New(regCfg, em.EmitChunk, a.logger.With("topic", t))
	return reg, em
}

// secretsForwarder defers to mgr, set once the secret manager exists.
// Lets the encrypted-topic emitters be built before the secret manager
// that depends on their PeekNextSeq.
type secretsForwarder struct {
	mgr *secretmgr.SecretManager
}

func (f *secretsForwarder) Encrypt(t topic.Topic, seq uint32, plaintext []byte) (ciphertext, iv, tag []byte, err error) {
	return f.mgr.Encrypt(t, seq, plaintext)
}

// publishFunc returns the PublishFunc an Emitter for t uses, rooted at
// this device's topic root.
func (a *App) publishFunc(t topic.Topic) emitter.PublishFunc {
	return func(suffix string, payload []byte) error {
		return a.transport.Publish(a.topicRoot+"/"+suffix, payload)
	}
}

// registerDirectives installs every directive handler the device
// supports onto the registry.
func (a *App) registerDirectives() {
	a.registry.Register(directive.SetVolume, a.speakerMgr.OnSetVolumeDirective)
	a.registry.Register(directive.OpenSpeaker, a.speakerMgr.OnOpenSpeakerDirective)
	a.registry.Register(directive.CloseSpeaker, a.speakerMgr.OnCloseSpeakerDirective)
	a.registry.Register(directive.OpenMicrophone, a.microphoneMgr.OnOpenMicrophoneDirective)
	a.registry.Register(directive.CloseMicrophone, a.microphoneMgr.OnCloseMicrophoneDirective)
	a.registry.Register(directive.SetAlert, a.alertMgr.OnSetAlert)
	a.registry.Register(directive.DeleteAlert, a.alertMgr.OnDeleteAlert)
	a.registry.Register(directive.SetAlertVolume, a.alertMgr.OnSetAlertVolume)
	a.registry.Register(directive.SetAttentionState, a.uxMgr.OnSetAttentionState)
	a.registry.Register(directive.SetClock, a.clockMgr.OnSetClock)
	a.registry.Register(directive.RotateSecret, a.onRotateSecret)
	a.registry.Register(directive.Exception, a.onServiceException)
}

func (a *App) onRotateSecret(payload json.RawMessage, seq, index uint32) error {
	var p secretmgr.RotateSecretPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	return a.secrets.OnRotateSecretDirective(p)
}

// onServiceException logs a problem the service reports with something
// this device sent. There is no further handler contract: the device
// has nothing to retry, only to note for diagnostics.
func (a *App) onServiceException(payload json.RawMessage, seq, index uint32) error {
	var p directive.ExceptionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	a.logger.Warn("device: service reported an exception", "code", p.Code, "description", p.Description)
	return nil
}

// Start connects the transport, subscribes to every inbound topic, and
// begins the capture/playback and microphone-streaming loops.
func (a *App) Start(ctx context.Context) error {
	if err := a.transport.Connect(ctx); err != nil {
		return fmt.Errorf("device: connect: %w", err)
	}
	for _, t := range []topic.Topic{topic.ConnectionFromService, topic.CapabilitiesAcknowledge, topic.Directive, topic.Speaker} {
		fullTopic := a.topicRoot + "/" + t.String()
		if err := a.transport.Subscribe(fullTopic, func(topicStr string, payload []byte) {
			a.dispatcher.OnMessage(topicStr, payload)
		}); err != nil {
			return fmt.Errorf("device: subscribe %s: %w", t, err)
		}
	}

	if a.playback != nil {
		if err := a.playback.Start(); err != nil {
			return fmt.Errorf("device: start playback: %w", err)
		}
	}
	if a.capture != nil {
		if err := a.capture.Start(); err != nil {
			return fmt.Errorf("device: start capture: %w", err)
		}
	}
	a.speakerMgr.Start()
	a.micStream.Start()

	a.connection.BeginConnecting()
	return a.publishConnectionFromClient()
}

func (a *App) publishConnectionFromClient() error {
	msg := &message.JSON{Name: "Connect", MessageID: idgen.New()}
	_, err := a.connRegulator.Write(message.NewChunk(msg))
	return err
}

// Stop halts every running loop and disconnects the transport.
func (a *App) Stop() {
	a.micStream.Stop()
	a.speakerMgr.StopPlayback()
	if a.capture != nil {
		a.capture.Stop()
	}
	if a.playback != nil {
		a.playback.Stop()
	}
	a.transport.Disconnect()
}

// Alerts exposes the alert manager for the application shell's alert
// firing loop (checking Due() against the clock manager's Now()).
func (a *App) Alerts() *alert.Manager { return a.alertMgr }

// Clock exposes the clock manager.
func (a *App) Clock() *clock.Manager { return a.clockMgr }

// Microphone exposes the microphone manager, e.g. for a local
// button/wake-word surface to drive HoldToTalk/TapToTalk/WakeWordStart.
func (a *App) Microphone() *microphone.Manager { return a.microphoneMgr }

// UX exposes the attention-state manager.
func (a *App) UX() *ux.Manager { return a.uxMgr }

// MicrophoneRing exposes the data-stream ring a capture collaborator
// must write into. The ring is owned by App (it also holds the reader
// internal/microphone and the streaming loop drain from), so a
// capture source is wired to it after construction rather than taking
// ownership of its own ring.
func (a *App) MicrophoneRing() *ring.Ring { return a.micRing }
