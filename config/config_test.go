package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sunblind/cover"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `{
	"mqtt": {"broker": "broker.local", "port": 1884},
	"controllers": [{
		"name": "south",
		"covers": ["cover.living_room"],
		"type": "vertical",
		"azimuth": 180,
		"fov_left": 90,
		"fov_right": 90,
		"distance": 0.5,
		"window_height": 2.1,
		"default_position": 60,
		"latitude": 52.37,
		"longitude": 4.90
	}]
}`

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT.Broker != "broker.local" || cfg.MQTT.Port != 1884 {
		t.Errorf("mqtt override not applied: %+v", cfg.MQTT)
	}
	if cfg.MQTT.BaseTopic == "" {
		t.Error("default base topic lost during merge")
	}
	if cfg.API.Addr != ":8093" {
		t.Errorf("API.Addr = %q, want default :8093", cfg.API.Addr)
	}
	if cfg.TickInterval() != time.Minute {
		t.Errorf("TickInterval = %v, want 1m", cfg.TickInterval())
	}

	opts, err := cfg.Controllers[0].ToOptions()
	if err != nil {
		t.Fatalf("ToOptions: %v", err)
	}
	if opts.Type != cover.TypeVertical {
		t.Errorf("Type = %v, want vertical", opts.Type)
	}
	if opts.Window.Azimuth != 180 || opts.Window.FOVLeft != 90 {
		t.Errorf("window geometry lost: %+v", opts.Window)
	}
	if opts.DefaultPosition != 60 {
		t.Errorf("DefaultPosition = %d, want 60", opts.DefaultPosition)
	}
	if opts.MinTimeDelta != 2*time.Minute {
		t.Errorf("MinTimeDelta default = %v, want 2m", opts.MinTimeDelta)
	}
	if opts.Location.Latitude != 52.37 {
		t.Errorf("Latitude = %v, want 52.37", opts.Location.Latitude)
	}
}

func TestLoadRejectsNoControllers(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"controllers": []}`)); err == nil {
		t.Fatal("expected error for empty controllers")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SUNBLIND_MQTT_BROKER", "env-broker")
	t.Setenv("SUNBLIND_MQTT_PORT", "8883")
	t.Setenv("SUNBLIND_API_ADDR", ":9999")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT.Broker != "env-broker" {
		t.Errorf("Broker = %q, want env-broker", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Port != 8883 {
		t.Errorf("Port = %d, want 8883", cfg.MQTT.Port)
	}
	if cfg.API.Addr != ":9999" {
		t.Errorf("Addr = %q, want :9999", cfg.API.Addr)
	}
}

func iptr(v int) *int { return &v }

func baseController() ControllerConfig {
	return ControllerConfig{
		Name:            "south",
		Covers:          []string{"cover.living_room"},
		Type:            "vertical",
		Azimuth:         180,
		FOVLeft:         90,
		FOVRight:        90,
		Distance:        0.5,
		WindowHeight:    2.1,
		DefaultPosition: iptr(60),
	}
}

// Keys omitted from a controller section must keep the engine defaults, not
// collapse to Go zero values.
func TestOmittedKeysKeepEngineDefaults(t *testing.T) {
	cc := baseController()
	cc.DefaultPosition = nil
	cc.ManualDetection = nil

	opts, err := cc.ToOptions()
	if err != nil {
		t.Fatalf("ToOptions: %v", err)
	}
	if opts.DefaultPosition != 60 {
		t.Errorf("DefaultPosition = %d, want default 60", opts.DefaultPosition)
	}
	if !opts.ManualDetection {
		t.Error("ManualDetection should default to enabled")
	}

	off := false
	cc.ManualDetection = &off
	cc.DefaultPosition = iptr(0)
	opts, err = cc.ToOptions()
	if err != nil {
		t.Fatalf("ToOptions: %v", err)
	}
	if opts.ManualDetection {
		t.Error("explicit false should disable detection")
	}
	if opts.DefaultPosition != 0 {
		t.Errorf("explicit 0 should stick, got %d", opts.DefaultPosition)
	}
}

func TestControllerValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ControllerConfig)
	}{
		{"no covers", func(c *ControllerConfig) { c.Covers = nil }},
		{"bad type", func(c *ControllerConfig) { c.Type = "sideways" }},
		{"azimuth out of range", func(c *ControllerConfig) { c.Azimuth = 360 }},
		{"fov out of range", func(c *ControllerConfig) { c.FOVLeft = 91 }},
		{"zero height", func(c *ControllerConfig) { c.WindowHeight = 0 }},
		{"zero distance", func(c *ControllerConfig) { c.Distance = 0 }},
		{"default position over 100", func(c *ControllerConfig) { c.DefaultPosition = iptr(101) }},
		{"tilt without slats", func(c *ControllerConfig) { c.Type = "tilt"; c.TiltMode = "mode1" }},
		{"awning without length", func(c *ControllerConfig) { c.Type = "awning" }},
		{"bad time boundary", func(c *ControllerConfig) { c.StartTime = "25:00" }},
		{"bad position range", func(c *ControllerConfig) { c.PositionRange = []int{80, 20} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cc := baseController()
			tc.mutate(&cc)
			if _, err := cc.ToOptions(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestTiltController(t *testing.T) {
	cc := baseController()
	cc.Type = "tilt"
	cc.TiltMode = "mode2"
	cc.SlatDistance = 0.02
	cc.SlatDepth = 0.03
	cc.Distance = 0
	cc.WindowHeight = 0

	opts, err := cc.ToOptions()
	if err != nil {
		t.Fatalf("ToOptions: %v", err)
	}
	if opts.Type != cover.TypeTilt || opts.TiltMode != cover.TiltMode2 {
		t.Errorf("tilt mapping wrong: type=%v mode=%v", opts.Type, opts.TiltMode)
	}
}

func TestDurationMapping(t *testing.T) {
	cc := baseController()
	cc.MinTimeDeltaMinutes = 5
	cc.ManualDurationMinutes = 30
	cc.SunsetOffsetMinutes = -15

	opts, err := cc.ToOptions()
	if err != nil {
		t.Fatalf("ToOptions: %v", err)
	}
	if opts.MinTimeDelta != 5*time.Minute {
		t.Errorf("MinTimeDelta = %v", opts.MinTimeDelta)
	}
	if opts.ManualDuration != 30*time.Minute {
		t.Errorf("ManualDuration = %v", opts.ManualDuration)
	}
	if opts.SunsetOffset != -15*time.Minute {
		t.Errorf("SunsetOffset = %v", opts.SunsetOffset)
	}
}

func TestDuplicateControllerNames(t *testing.T) {
	cfg := Default()
	cfg.Controllers = []ControllerConfig{baseController(), baseController()}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate name error")
	}
}
