// Package engine runs the control loop: it evaluates each configured
// controller against the latest sensor states, gates redundant movement,
// tracks manual intervention and verifies that commanded positions stick.
package engine

import (
	"time"

	"sunblind/cover"
	"sunblind/geometry"
	"sunblind/solar"
)

// Fixed control-loop timing. These are behavioral constants, not tuning
// knobs; changing them changes how manual intervention is detected.
const (
	// CommandGracePeriod is how long position updates from a cover are
	// ignored after a command, while the motor is moving.
	CommandGracePeriod = 5 * time.Second

	// StartupGracePeriod suppresses manual-override detection after start,
	// when covers may still be reporting stale or in-flight positions.
	StartupGracePeriod = 30 * time.Second

	// VerifyInterval is how often commanded positions are re-checked.
	VerifyInterval = time.Minute

	// PositionTolerance is the acceptable deviation, in percent points,
	// between a commanded target and the reported position.
	PositionTolerance = 3

	// MaxRetries bounds repositioning attempts per stuck target.
	MaxRetries = 3
)

// DefaultManualDuration is how long a manually moved cover is left alone.
const DefaultManualDuration = 15 * time.Minute

// Options configures one controller (one window, one or more covers).
type Options struct {
	Name   string
	Covers []string

	Type     cover.Type
	TiltMode cover.TiltMode

	Window       geometry.Window
	Distance     float64
	WindowHeight float64
	RevealDepth  float64
	AwningLength float64
	AwningAngle  float64
	SlatDistance float64
	SlatDepth    float64

	DefaultPosition int
	SunsetPosition  int
	SunsetOffset    time.Duration
	SunriseOffset   time.Duration
	Limits          geometry.Limits

	// InverseState flips positions for covers that report 0 as open.
	InverseState bool

	// PositionRange optionally remaps the computed 0-100 range onto the
	// actuator's usable travel, e.g. [10, 90] for covers that bind at the
	// extremes. Nil disables the remap.
	PositionRange *[2]int

	// Gating.
	MinPositionDelta int           // minimum percent-point change worth a command
	MinTimeDelta     time.Duration // minimum time between commands per cover
	StartTime        string        // "15:04"; empty means always active
	EndTime          string
	StartTimeEntity  string // entity overriding StartTime when set
	EndTimeEntity    string
	// ReturnToDefaultAtEnd sends the sunset position when the daily window
	// closes.
	ReturnToDefaultAtEnd bool

	// Force override: boolean sensors (rain, wind alarms) that pin all
	// covers to a fixed position while any of them reads on.
	ForceOverrideEntities []string
	ForceOverridePosition int

	// Manual override behavior.
	ManualDetection    bool
	ManualThreshold    int // percent points; 0 means any mismatch counts
	ManualDuration     time.Duration
	ManualTimerRestart bool // restart the override timer on every manual move
	IgnoreIntermediate bool // skip opening/closing transitional states

	// Climate strategy inputs.
	ClimateMode         bool
	TempEntity          string
	OutsideTempEntity   string
	WeatherEntity       string
	PresenceEntity      string
	LuxEntity           string
	IrradianceEntity    string
	TempLow             *float64
	TempHigh            *float64
	OutsideTempSummer   *float64
	PreferOutsideTemp   bool
	SunnyConditions     []string
	LuxThreshold        float64
	IrradianceThreshold float64
	TransparentBlind    bool

	// Sun source: an entity publishing azimuth/elevation attributes, or
	// the observer location for internal computation.
	SunEntity string
	Location  solar.Location
}

// DefaultOptions fills the gating and override defaults.
func DefaultOptions() Options {
	return Options{
		Type:             cover.TypeVertical,
		WindowHeight:     2.1,
		Distance:         0.5,
		DefaultPosition:  60,
		SunsetPosition:   0,
		MinPositionDelta: 1,
		MinTimeDelta:     2 * time.Minute,
		ManualDetection:  true,
		ManualDuration:   DefaultManualDuration,
		SunnyConditions:  []string{"sunny", "windy", "partlycloudy", "cloudy"},
	}
}
