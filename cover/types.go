// Package cover models the three cover geometries (vertical blind, awning,
// tilted slats) and the decision layers that turn sun position, climate and
// occupancy inputs into a target position percentage.
package cover

import "fmt"

// Type identifies the cover geometry a controller drives.
type Type int

const (
	TypeVertical Type = iota
	TypeAwning
	TypeTilt
)

func (t Type) String() string {
	switch t {
	case TypeVertical:
		return "vertical"
	case TypeAwning:
		return "awning"
	case TypeTilt:
		return "tilt"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType maps a config string to a cover type.
func ParseType(s string) (Type, error) {
	switch s {
	case "vertical", "blind", "cover_blind":
		return TypeVertical, nil
	case "awning", "cover_awning":
		return TypeAwning, nil
	case "tilt", "cover_tilt":
		return TypeTilt, nil
	default:
		return 0, fmt.Errorf("unknown cover type %q", s)
	}
}

// TiltMode selects single- or bi-directional slat travel.
type TiltMode int

const (
	// TiltMode1 tilts in one direction: 0° closed to 90° open.
	TiltMode1 TiltMode = iota
	// TiltMode2 tilts through: 0° closed, 90° horizontal, 180° closed again.
	TiltMode2
)

// MaxDegrees is the angular travel of the mode, the denominator when the
// slat angle is expressed as a percentage.
func (m TiltMode) MaxDegrees() float64 {
	if m == TiltMode2 {
		return 180
	}
	return 90
}

func (m TiltMode) String() string {
	if m == TiltMode2 {
		return "mode2"
	}
	return "mode1"
}

// ParseTiltMode maps a config string to a tilt mode.
func ParseTiltMode(s string) (TiltMode, error) {
	switch s {
	case "mode1", "":
		return TiltMode1, nil
	case "mode2":
		return TiltMode2, nil
	default:
		return 0, fmt.Errorf("unknown tilt mode %q", s)
	}
}

// Fixed climate-strategy tilt angles in degrees.
const (
	SummerTiltAngle  = 45.0 // heat blocking with some diffuse light
	DefaultTiltAngle = 80.0 // mostly open for natural light
)

// PositionClosed is the percentage of a fully closed cover.
const PositionClosed = 0

// Invert mirrors a position for covers that report 0 as open.
func Invert(position int) int {
	return 100 - position
}
