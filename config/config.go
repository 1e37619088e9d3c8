// Package config loads the JSON configuration file, applies environment
// overrides and maps controller sections onto engine options.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"sunblind/cover"
	"sunblind/dispatch"
	"sunblind/engine"
	"sunblind/geometry"
	"sunblind/solar"
	"sunblind/statebus"
)

// Config is the top-level configuration file layout.
type Config struct {
	Log      LogConfig       `json:"log"`
	MQTT     statebus.Config `json:"mqtt"`
	Dispatch dispatch.Config `json:"dispatch"`
	API      APIConfig       `json:"api"`
	History  HistoryConfig   `json:"history"`

	// TickIntervalSeconds is the baseline evaluation cadence.
	TickIntervalSeconds int `json:"tick_interval_seconds"`

	Controllers []ControllerConfig `json:"controllers"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `json:"level"` // debug, info, warn, error
	File  string `json:"file"`  // optional log file, in addition to stdout
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	Addr string `json:"addr"`
}

// HistoryConfig controls the tick history.
type HistoryConfig struct {
	BufferSize int    `json:"buffer_size"`
	CSVPath    string `json:"csv_path"` // empty disables the CSV log
}

// ControllerConfig is the JSON shape of one controller.
type ControllerConfig struct {
	Name   string   `json:"name"`
	Covers []string `json:"covers"`

	// Type is vertical, awning or tilt; TiltMode is mode1 or mode2.
	Type     string `json:"type"`
	TiltMode string `json:"tilt_mode"`

	// Window geometry, degrees.
	Azimuth            float64  `json:"azimuth"`
	FOVLeft            float64  `json:"fov_left"`
	FOVRight           float64  `json:"fov_right"`
	MinElevation       *float64 `json:"min_elevation"`
	MaxElevation       *float64 `json:"max_elevation"`
	BlindSpotLeft      float64  `json:"blind_spot_left"`
	BlindSpotRight     float64  `json:"blind_spot_right"`
	BlindSpotElevation *float64 `json:"blind_spot_elevation"`
	BlindSpotEnabled   bool     `json:"blind_spot_enabled"`

	// Physical dimensions, meters.
	Distance     float64 `json:"distance"`
	WindowHeight float64 `json:"window_height"`
	RevealDepth  float64 `json:"reveal_depth"`
	AwningLength float64 `json:"awning_length"`
	AwningAngle  float64 `json:"awning_angle"`
	SlatDistance float64 `json:"slat_distance"`
	SlatDepth    float64 `json:"slat_depth"`

	// Positions, percent. DefaultPosition nil keeps the engine default.
	DefaultPosition      *int `json:"default_position"`
	SunsetPosition       int  `json:"sunset_position"`
	SunsetOffsetMinutes  int  `json:"sunset_offset_minutes"`
	SunriseOffsetMinutes int  `json:"sunrise_offset_minutes"`
	MinPosition          int  `json:"min_position"`
	MaxPosition          int  `json:"max_position"`
	MinPositionOnlySun   bool `json:"min_position_only_sun"`
	MaxPositionOnlySun   bool `json:"max_position_only_sun"`
	InverseState         bool `json:"inverse_state"`

	// PositionRange optionally remaps output onto [min, max].
	PositionRange []int `json:"position_range"`

	// Gating.
	MinPositionDelta     int    `json:"min_position_delta"`
	MinTimeDeltaMinutes  int    `json:"min_time_delta_minutes"`
	StartTime            string `json:"start_time"`
	EndTime              string `json:"end_time"`
	StartTimeEntity      string `json:"start_time_entity"`
	EndTimeEntity        string `json:"end_time_entity"`
	ReturnToDefaultAtEnd bool   `json:"return_to_default_at_end"`

	// Force override.
	ForceOverrideEntities []string `json:"force_override_entities"`
	ForceOverridePosition int      `json:"force_override_position"`

	// Manual override. ManualDetection nil keeps detection enabled.
	ManualDetection       *bool `json:"manual_detection"`
	ManualThreshold       int   `json:"manual_threshold"`
	ManualDurationMinutes int   `json:"manual_duration_minutes"`
	ManualTimerRestart    bool  `json:"manual_timer_restart"`
	IgnoreIntermediate    bool  `json:"ignore_intermediate"`

	// Climate strategy.
	ClimateMode         bool     `json:"climate_mode"`
	TempEntity          string   `json:"temp_entity"`
	OutsideTempEntity   string   `json:"outside_temp_entity"`
	WeatherEntity       string   `json:"weather_entity"`
	PresenceEntity      string   `json:"presence_entity"`
	LuxEntity           string   `json:"lux_entity"`
	IrradianceEntity    string   `json:"irradiance_entity"`
	TempLow             *float64 `json:"temp_low"`
	TempHigh            *float64 `json:"temp_high"`
	OutsideTempSummer   *float64 `json:"outside_temp_summer"`
	PreferOutsideTemp   bool     `json:"prefer_outside_temp"`
	SunnyConditions     []string `json:"sunny_conditions"`
	LuxThreshold        float64  `json:"lux_threshold"`
	IrradianceThreshold float64  `json:"irradiance_threshold"`
	TransparentBlind    bool     `json:"transparent_blind"`

	// Sun source.
	SunEntity string  `json:"sun_entity"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Default returns a runnable configuration with no controllers.
func Default() Config {
	return Config{
		Log:                 LogConfig{Level: "info"},
		MQTT:                statebus.DefaultConfig(),
		Dispatch:            dispatch.DefaultConfig(),
		API:                 APIConfig{Addr: ":8093"},
		History:             HistoryConfig{BufferSize: 4096},
		TickIntervalSeconds: 60,
	}
}

// Load reads the file, fills defaults, applies environment overrides and
// validates.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides settings from the environment, for containerized
// deployments.
func (c *Config) applyEnv() {
	c.MQTT.Broker = getenv("SUNBLIND_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Port = geti("SUNBLIND_MQTT_PORT", c.MQTT.Port)
	c.MQTT.Username = getenv("SUNBLIND_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getenv("SUNBLIND_MQTT_PASSWORD", c.MQTT.Password)
	c.API.Addr = getenv("SUNBLIND_API_ADDR", c.API.Addr)
	c.Log.Level = getenv("SUNBLIND_LOG_LEVEL", c.Log.Level)
	c.Log.File = getenv("SUNBLIND_LOG_FILE", c.Log.File)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func geti(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Validate checks the cross-field constraints a typo would break.
func (c *Config) Validate() error {
	if len(c.Controllers) == 0 {
		return fmt.Errorf("config: no controllers defined")
	}
	if c.TickIntervalSeconds <= 0 {
		return fmt.Errorf("config: tick_interval_seconds must be positive")
	}
	seen := make(map[string]bool)
	for i := range c.Controllers {
		cc := &c.Controllers[i]
		if cc.Name == "" {
			return fmt.Errorf("config: controller %d has no name", i)
		}
		if seen[cc.Name] {
			return fmt.Errorf("config: duplicate controller name %q", cc.Name)
		}
		seen[cc.Name] = true
		if _, err := cc.ToOptions(); err != nil {
			return fmt.Errorf("config: controller %q: %w", cc.Name, err)
		}
	}
	return nil
}

// ToOptions maps the JSON section onto engine options, validating ranges.
func (cc *ControllerConfig) ToOptions() (engine.Options, error) {
	opts := engine.DefaultOptions()
	opts.Name = cc.Name
	opts.Covers = cc.Covers

	if len(cc.Covers) == 0 {
		return opts, fmt.Errorf("no covers listed")
	}

	typ, err := cover.ParseType(cc.Type)
	if err != nil {
		return opts, err
	}
	opts.Type = typ
	if typ == cover.TypeTilt {
		mode, err := cover.ParseTiltMode(cc.TiltMode)
		if err != nil {
			return opts, err
		}
		opts.TiltMode = mode
		if cc.SlatDistance <= 0 || cc.SlatDepth <= 0 {
			return opts, fmt.Errorf("tilt covers need slat_distance and slat_depth")
		}
	}
	if typ == cover.TypeAwning && cc.AwningLength <= 0 {
		return opts, fmt.Errorf("awning covers need awning_length")
	}

	if cc.Azimuth < 0 || cc.Azimuth >= 360 {
		return opts, fmt.Errorf("azimuth %v outside [0, 360)", cc.Azimuth)
	}
	if cc.FOVLeft <= 0 || cc.FOVLeft > 90 || cc.FOVRight <= 0 || cc.FOVRight > 90 {
		return opts, fmt.Errorf("fov_left/fov_right must be in (0, 90]")
	}
	if typ != cover.TypeTilt {
		if cc.WindowHeight <= 0 {
			return opts, fmt.Errorf("window_height must be positive")
		}
		if cc.Distance <= 0 {
			return opts, fmt.Errorf("distance must be positive")
		}
	}
	if cc.DefaultPosition != nil && (*cc.DefaultPosition < 0 || *cc.DefaultPosition > 100) {
		return opts, fmt.Errorf("default_position %d outside [0, 100]", *cc.DefaultPosition)
	}
	if cc.SunsetPosition < 0 || cc.SunsetPosition > 100 {
		return opts, fmt.Errorf("sunset_position %d outside [0, 100]", cc.SunsetPosition)
	}

	opts.Window = geometry.Window{
		Azimuth:          cc.Azimuth,
		FOVLeft:          cc.FOVLeft,
		FOVRight:         cc.FOVRight,
		BlindSpotLeft:    cc.BlindSpotLeft,
		BlindSpotRight:   cc.BlindSpotRight,
		BlindSpotEnabled: cc.BlindSpotEnabled,
	}
	if cc.MinElevation != nil {
		opts.Window.MinElevation = *cc.MinElevation
		opts.Window.HasMinElevation = true
	}
	if cc.MaxElevation != nil {
		opts.Window.MaxElevation = *cc.MaxElevation
		opts.Window.HasMaxElevation = true
	}
	if cc.BlindSpotElevation != nil {
		opts.Window.BlindSpotElevation = *cc.BlindSpotElevation
		opts.Window.BlindSpotHasElevation = true
	}

	opts.Distance = cc.Distance
	opts.WindowHeight = cc.WindowHeight
	opts.RevealDepth = cc.RevealDepth
	opts.AwningLength = cc.AwningLength
	opts.AwningAngle = cc.AwningAngle
	opts.SlatDistance = cc.SlatDistance
	opts.SlatDepth = cc.SlatDepth

	if cc.DefaultPosition != nil {
		opts.DefaultPosition = *cc.DefaultPosition
	}
	opts.SunsetPosition = cc.SunsetPosition
	opts.SunsetOffset = time.Duration(cc.SunsetOffsetMinutes) * time.Minute
	opts.SunriseOffset = time.Duration(cc.SunriseOffsetMinutes) * time.Minute
	opts.Limits = geometry.Limits{
		Min:            cc.MinPosition,
		Max:            cc.MaxPosition,
		MinConditional: cc.MinPositionOnlySun,
		MaxConditional: cc.MaxPositionOnlySun,
	}
	opts.InverseState = cc.InverseState

	if len(cc.PositionRange) != 0 {
		if len(cc.PositionRange) != 2 || cc.PositionRange[0] >= cc.PositionRange[1] {
			return opts, fmt.Errorf("position_range must be [min, max] with min < max")
		}
		opts.PositionRange = &[2]int{cc.PositionRange[0], cc.PositionRange[1]}
	}

	if cc.MinPositionDelta > 0 {
		opts.MinPositionDelta = cc.MinPositionDelta
	}
	if cc.MinTimeDeltaMinutes > 0 {
		opts.MinTimeDelta = time.Duration(cc.MinTimeDeltaMinutes) * time.Minute
	}
	for _, raw := range []string{cc.StartTime, cc.EndTime} {
		if raw == "" {
			continue
		}
		if _, err := time.Parse("15:04", raw); err != nil {
			return opts, fmt.Errorf("time boundary %q not in HH:MM form", raw)
		}
	}
	opts.StartTime = cc.StartTime
	opts.EndTime = cc.EndTime
	opts.StartTimeEntity = cc.StartTimeEntity
	opts.EndTimeEntity = cc.EndTimeEntity
	opts.ReturnToDefaultAtEnd = cc.ReturnToDefaultAtEnd

	if cc.ForceOverridePosition < 0 || cc.ForceOverridePosition > 100 {
		return opts, fmt.Errorf("force_override_position %d outside [0, 100]", cc.ForceOverridePosition)
	}
	opts.ForceOverrideEntities = cc.ForceOverrideEntities
	opts.ForceOverridePosition = cc.ForceOverridePosition

	if cc.ManualDetection != nil {
		opts.ManualDetection = *cc.ManualDetection
	}
	opts.ManualThreshold = cc.ManualThreshold
	if cc.ManualDurationMinutes > 0 {
		opts.ManualDuration = time.Duration(cc.ManualDurationMinutes) * time.Minute
	}
	opts.ManualTimerRestart = cc.ManualTimerRestart
	opts.IgnoreIntermediate = cc.IgnoreIntermediate

	opts.ClimateMode = cc.ClimateMode
	opts.TempEntity = cc.TempEntity
	opts.OutsideTempEntity = cc.OutsideTempEntity
	opts.WeatherEntity = cc.WeatherEntity
	opts.PresenceEntity = cc.PresenceEntity
	opts.LuxEntity = cc.LuxEntity
	opts.IrradianceEntity = cc.IrradianceEntity
	opts.TempLow = cc.TempLow
	opts.TempHigh = cc.TempHigh
	opts.OutsideTempSummer = cc.OutsideTempSummer
	opts.PreferOutsideTemp = cc.PreferOutsideTemp
	if len(cc.SunnyConditions) > 0 {
		opts.SunnyConditions = cc.SunnyConditions
	}
	opts.LuxThreshold = cc.LuxThreshold
	opts.IrradianceThreshold = cc.IrradianceThreshold
	opts.TransparentBlind = cc.TransparentBlind

	opts.SunEntity = cc.SunEntity
	opts.Location = solar.Location{Latitude: cc.Latitude, Longitude: cc.Longitude}

	return opts, nil
}

// TickInterval returns the evaluation cadence as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}
