package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestParseCapabilities(t *testing.T) {
	caps := ParseCapabilities(FeatureOpen | FeatureClose | FeatureSetPosition)
	if !caps.SetPosition || !caps.Open || !caps.Close || caps.SetTiltPosition {
		t.Errorf("unexpected capabilities: %+v", caps)
	}

	caps = ParseCapabilities(FeatureSetTiltPosition)
	if !caps.SetTiltPosition || caps.SetPosition {
		t.Errorf("unexpected tilt capabilities: %+v", caps)
	}

	caps = ParseCapabilities(0)
	if caps.SetPosition || caps.Open || caps.Close || caps.SetTiltPosition {
		t.Errorf("zero mask should yield no capabilities: %+v", caps)
	}
}

func TestPreparePositionable(t *testing.T) {
	cmd, err := Prepare("cover.living", 42, false, DefaultCapabilities())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if cmd.Service != ServiceSetPosition {
		t.Errorf("Service = %q, want %q", cmd.Service, ServiceSetPosition)
	}
	if cmd.Position == nil || *cmd.Position != 42 {
		t.Errorf("Position = %v, want 42", cmd.Position)
	}
	if cmd.Target != 42 {
		t.Errorf("Target = %d, want 42", cmd.Target)
	}
	if cmd.ID == "" {
		t.Error("command id missing")
	}
}

func TestPrepareTilt(t *testing.T) {
	caps := Capabilities{SetTiltPosition: true}
	cmd, err := Prepare("cover.venetian", 75, true, caps)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if cmd.Service != ServiceSetTiltPosition {
		t.Errorf("Service = %q, want %q", cmd.Service, ServiceSetTiltPosition)
	}
	if cmd.TiltPosition == nil || *cmd.TiltPosition != 75 {
		t.Errorf("TiltPosition = %v, want 75", cmd.TiltPosition)
	}
}

func TestPrepareOpenCloseThreshold(t *testing.T) {
	caps := Capabilities{Open: true, Close: true}

	cmd, err := Prepare("cover.dumb", 50, false, caps)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if cmd.Service != ServiceOpen || cmd.Target != 100 {
		t.Errorf("at threshold: %q target %d, want open_cover target 100", cmd.Service, cmd.Target)
	}

	cmd, err = Prepare("cover.dumb", 49, false, caps)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if cmd.Service != ServiceClose || cmd.Target != 0 {
		t.Errorf("below threshold: %q target %d, want close_cover target 0", cmd.Service, cmd.Target)
	}
}

func TestPrepareNoCapabilities(t *testing.T) {
	if _, err := Prepare("cover.broken", 50, false, Capabilities{}); err == nil {
		t.Error("Prepare should fail without any movement capability")
	}
}

// fakePublisher records publishes without a broker.
type fakePublisher struct {
	topics   []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return &mqtt.DummyToken{}
}

func TestSendPublishesCommand(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(DefaultConfig(), pub, nil)

	cmd, err := d.Send(context.Background(), "cover.living_room", 30, false, DefaultCapabilities())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(pub.topics) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.topics))
	}
	if pub.topics[0] != "sunblind/command/cover/living_room" {
		t.Errorf("topic = %q", pub.topics[0])
	}

	var decoded Command
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if decoded.ID != cmd.ID || decoded.Service != ServiceSetPosition {
		t.Errorf("decoded %+v does not match sent command %+v", decoded, cmd)
	}
}
