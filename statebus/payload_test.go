package statebus

import "testing"

// fakeMessage satisfies the broker message interface for onMessage tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestParseStateScalar(t *testing.T) {
	s, err := ParseState("sunblind", "sunblind/state/sensor/indoor_temp", []byte("21.5"))
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if s.EntityID != "sensor.indoor_temp" {
		t.Errorf("EntityID = %q, want sensor.indoor_temp", s.EntityID)
	}
	if f := s.Float(); f == nil || *f != 21.5 {
		t.Errorf("Float() = %v, want 21.5", f)
	}
}

func TestParseStateJSON(t *testing.T) {
	payload := []byte(`{"state": "sunny", "attributes": {"temperature": 23.5}}`)
	s, err := ParseState("sunblind", "sunblind/state/weather/home", payload)
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if s.Value != "sunny" {
		t.Errorf("Value = %q, want sunny", s.Value)
	}
	if a := s.Attr("temperature"); a == nil || *a != 23.5 {
		t.Errorf("Attr(temperature) = %v, want 23.5", a)
	}
	if s.Attr("missing") != nil {
		t.Error("missing attribute should be nil")
	}
}

func TestParseStateNumericJSON(t *testing.T) {
	s, err := ParseState("sunblind", "sunblind/state/sun/elevation", []byte(`{"state": 42.7}`))
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if f := s.Float(); f == nil || *f != 42.7 {
		t.Errorf("Float() = %v, want 42.7", f)
	}
}

func TestParseStateRejects(t *testing.T) {
	if _, err := ParseState("sunblind", "other/state/x", []byte("1")); err == nil {
		t.Error("foreign topic should be rejected")
	}
	if _, err := ParseState("sunblind", "sunblind/state/", []byte("1")); err == nil {
		t.Error("empty entity id should be rejected")
	}
	if _, err := ParseState("sunblind", "sunblind/state/sensor/x", []byte("  ")); err == nil {
		t.Error("empty payload should be rejected")
	}
	if _, err := ParseState("sunblind", "sunblind/state/sensor/x", []byte(`{"bad json`)); err == nil {
		t.Error("malformed JSON should be rejected")
	}
}

func TestStateAvailability(t *testing.T) {
	s := State{Value: "unavailable"}
	if s.Available() {
		t.Error("unavailable should not be available")
	}
	if s.Float() != nil {
		t.Error("unavailable Float should be nil")
	}
	if s.Bool() != nil {
		t.Error("unavailable Bool should be nil")
	}
}

func TestStateBool(t *testing.T) {
	cases := []struct {
		value string
		want  *bool
	}{
		{"on", ptr(true)},
		{"home", ptr(true)},
		{"off", ptr(false)},
		{"not_home", ptr(false)},
		{"away", ptr(false)},
		{"2", ptr(true)}, // zone occupant count
		{"0", ptr(false)},
		{"sunny", nil},
	}
	for _, tc := range cases {
		got := State{Value: tc.value}.Bool()
		switch {
		case tc.want == nil && got != nil:
			t.Errorf("Bool(%q) = %v, want nil", tc.value, *got)
		case tc.want != nil && (got == nil || *got != *tc.want):
			t.Errorf("Bool(%q) = %v, want %v", tc.value, got, *tc.want)
		}
	}
}

func ptr(v bool) *bool { return &v }

func TestDomain(t *testing.T) {
	if d := Domain("device_tracker.phone"); d != "device_tracker" {
		t.Errorf("Domain = %q, want device_tracker", d)
	}
	if d := Domain("nodomain"); d != "" {
		t.Errorf("Domain = %q, want empty", d)
	}
}

// Cover position updates keep the scalar value ("open") stable while only
// the current_position attribute moves; every such update must reach the
// listeners or override detection and verification go blind.
func TestBusNotifiesAttributeOnlyChanges(t *testing.T) {
	bus := NewBus(DefaultConfig(), nil)

	var positions []float64
	bus.OnChange(func(s State) {
		if p := s.Attr("current_position"); p != nil {
			positions = append(positions, *p)
		}
	})

	topic := "sunblind/state/cover/living_room"
	bus.onMessage(nil, &fakeMessage{topic, []byte(`{"state":"open","attributes":{"current_position":90}}`)})
	bus.onMessage(nil, &fakeMessage{topic, []byte(`{"state":"open","attributes":{"current_position":30}}`)})

	if len(positions) != 2 || positions[0] != 90 || positions[1] != 30 {
		t.Fatalf("listener saw positions %v, want [90 30]", positions)
	}
	if p := bus.Float("cover.living_room"); p != nil {
		t.Errorf("scalar value should stay non-numeric, got %v", *p)
	}
	if st, ok := bus.Get("cover.living_room"); !ok || *st.Attr("current_position") != 30 {
		t.Errorf("stored state = %+v, want current_position 30", st)
	}
}

func TestBusInjectAndListeners(t *testing.T) {
	bus := NewBus(DefaultConfig(), nil)

	var seen []State
	bus.OnChange(func(s State) { seen = append(seen, s) })

	bus.Inject(State{EntityID: "sensor.lux", Value: "800"})

	if f := bus.Float("sensor.lux"); f == nil || *f != 800 {
		t.Errorf("Float = %v, want 800", f)
	}
	if len(seen) != 1 || seen[0].EntityID != "sensor.lux" {
		t.Errorf("listener saw %v, want one sensor.lux update", seen)
	}
	if bus.Size() != 1 {
		t.Errorf("Size = %d, want 1", bus.Size())
	}

	snap := bus.Snapshot()
	if _, ok := snap["sensor.lux"]; !ok {
		t.Error("snapshot missing sensor.lux")
	}
}
