package microphone

import (
	"encoding/json"
	"testing"

	"github.com/aia-voice/deviceclient/internal/message"
	"github.com/aia-voice/deviceclient/internal/ring"
)

type fakeSeeker struct {
	kind   ring.SeekKind
	offset uint32
	called bool
}

func (s *fakeSeeker) Seek(kind ring.SeekKind, offset uint32) error {
	s.kind, s.offset, s.called = kind, offset, true
	return nil
}

type fakeEvents struct {
	written []message.Chunk
}

func (e *fakeEvents) Write(chunk message.Chunk) (bool, error) {
	e.written = append(e.written, chunk)
	return true, nil
}

func lastName(t *testing.T, events *fakeEvents) string {
	t.Helper()
	if len(events.written) == 0 {
		t.Fatalf("expected at least one event")
	}
	msg, ok := events.written[len(events.written)-1].Msg.(*message.JSON)
	if !ok {
		t.Fatalf("got %T, want *message.JSON", events.written[len(events.written)-1].Msg)
	}
	return msg.Name
}

func TestHoldToTalkOpensAndSeeksToStartSample(t *testing.T) {
	seeker := &fakeSeeker{}
	events := &fakeEvents{}
	m := New(Config{Reader: seeker, Events: events}, nil)

	m.HoldToTalk(1000)

	if m.State() != Open {
		t.Fatalf("got %v, want Open", m.State())
	}
	if !seeker.called || seeker.offset != 1000 || seeker.kind != ring.Absolute {
		t.Fatalf("got seeker=%+v, want Absolute seek to 1000", seeker)
	}
	if lastName(t, events) != "MicrophoneOpened" {
		t.Fatalf("expected MicrophoneOpened event")
	}
}

func TestTapToTalkCarriesProfile(t *testing.T) {
	events := &fakeEvents{}
	m := New(Config{Events: events}, nil)

	m.TapToTalk(500, "kitchen")

	msg := events.written[0].Msg.(*message.JSON)
	var p openedPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Profile != "kitchen" || p.InitiationType != "TAP_TO_TALK" {
		t.Fatalf("got %+v", p)
	}
}

func TestWakeWordStartSeeksWithPreroll(t *testing.T) {
	seeker := &fakeSeeker{}
	m := New(Config{SampleRate: 16000, Reader: seeker}, nil)

	m.WakeWordStart(20000, 24000, "living-room", "hey-device")

	// 500ms preroll at 16kHz = 8000 samples.
	if seeker.offset != 12000 {
		t.Fatalf("got seek offset %d, want 12000", seeker.offset)
	}
}

func TestWakeWordStartNearZeroClampsToZero(t *testing.T) {
	seeker := &fakeSeeker{}
	m := New(Config{SampleRate: 16000, Reader: seeker}, nil)

	m.WakeWordStart(100, 500, "", "word")

	if seeker.offset != 0 {
		t.Fatalf("got seek offset %d, want 0 (clamped)", seeker.offset)
	}
}

func TestCloseMicrophonePublishesClosedEvent(t *testing.T) {
	events := &fakeEvents{}
	m := New(Config{Events: events}, nil)
	m.HoldToTalk(0)

	m.CloseMicrophone()

	if m.State() != Closed {
		t.Fatalf("got %v, want Closed", m.State())
	}
	if lastName(t, events) != "MicrophoneClosed" {
		t.Fatalf("expected MicrophoneClosed event")
	}
}

func TestStateChangeCallbackFiresOnTransitionsOnly(t *testing.T) {
	var transitions []State
	m := New(Config{OnStateChanged: func(s State) { transitions = append(transitions, s) }}, nil)

	m.HoldToTalk(0)
	m.HoldToTalk(10) // already Open; must not fire again
	m.CloseMicrophone()

	if len(transitions) != 2 || transitions[0] != Open || transitions[1] != Closed {
		t.Fatalf("got %v, want [Open Closed]", transitions)
	}
}

func TestOnOpenMicrophoneDirectiveDispatchesByInitiationType(t *testing.T) {
	events := &fakeEvents{}
	m := New(Config{Events: events}, nil)

	payload := json.RawMessage(`{"initiationType":"TAP_TO_TALK","startSample":77,"profile":"p1"}`)
	if err := m.OnOpenMicrophoneDirective(payload, 1, 0); err != nil {
		t.Fatalf("OnOpenMicrophoneDirective: %v", err)
	}
	if m.State() != Open {
		t.Fatalf("got %v, want Open", m.State())
	}
}

func TestOnCloseMicrophoneDirectiveClosesMicrophone(t *testing.T) {
	m := New(Config{}, nil)
	m.HoldToTalk(0)

	if err := m.OnCloseMicrophoneDirective(nil, 1, 0); err != nil {
		t.Fatalf("OnCloseMicrophoneDirective: %v", err)
	}
	if m.State() != Closed {
		t.Fatalf("got %v, want Closed", m.State())
	}
}
