// Package geometry holds the pure sun/window math used by the cover models:
// surface-relative angles, visibility predicates, safety margins and the
// edge-case fallbacks that keep the trigonometry stable at extreme angles.
package geometry

import "math"

// Edge-case thresholds. Below/above these the projection formula is
// unstable and a fixed fallback is used instead.
const (
	EdgeCaseLowElevation  = 2.0  // degrees; sun nearly horizontal
	EdgeCaseExtremeGamma  = 85.0 // degrees; sun nearly perpendicular to window normal
	EdgeCaseHighElevation = 88.0 // degrees; sun nearly overhead
)

// Safety-margin tuning. Margins are additive on top of 1.0.
const (
	MarginGammaThreshold    = 45.0
	MarginGammaMax          = 0.20
	MarginLowElevThreshold  = 10.0
	MarginLowElevMax        = 0.15
	MarginHighElevThreshold = 75.0
	MarginHighElevMax       = 0.10
)

// RevealDepthGammaThreshold is the |gamma| above which a window reveal or
// frame casts enough sideways shadow to matter.
const RevealDepthGammaThreshold = 10.0

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }

func degrees(rad float64) float64 { return rad * 180.0 / math.Pi }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize180 maps an angle in degrees onto (-180, 180].
func Normalize180(deg float64) float64 {
	n := math.Mod(deg+180.0, 360.0)
	if n < 0 {
		n += 360.0
	}
	return n - 180.0
}

// Gamma is the surface solar azimuth: the signed horizontal angle between the
// window's outward normal and the sun. Positive means the sun sits to the
// left of the normal (matching the fov_left convention).
func Gamma(windowAzimuth, sunAzimuth float64) float64 {
	return Normalize180(windowAzimuth - sunAzimuth)
}

// Window describes the static sun-facing geometry of one window.
type Window struct {
	Azimuth  float64 // outward normal, degrees from north
	FOVLeft  float64 // half-angle left of the normal, degrees
	FOVRight float64 // half-angle right of the normal, degrees

	// Optional elevation bounds. Enabled flags distinguish "0" from unset.
	MinElevation    float64
	MaxElevation    float64
	HasMinElevation bool
	HasMaxElevation bool

	// Optional blind spot, a sub-sector of the FOV measured from the left
	// FOV edge inward, with an optional elevation ceiling.
	BlindSpotLeft         float64
	BlindSpotRight        float64
	BlindSpotElevation    float64
	BlindSpotHasElevation bool
	BlindSpotEnabled      bool
}

// Gamma returns the surface solar azimuth for this window.
func (w Window) Gamma(sunAzimuth float64) float64 {
	return Gamma(w.Azimuth, sunAzimuth)
}

// ValidElevation reports whether the sun elevation falls inside the
// configured bounds. With no bounds configured, any elevation at or above
// the horizon is valid.
func (w Window) ValidElevation(elevation float64) bool {
	switch {
	case !w.HasMinElevation && !w.HasMaxElevation:
		return elevation >= 0
	case !w.HasMinElevation:
		return elevation <= w.MaxElevation
	case !w.HasMaxElevation:
		return elevation >= w.MinElevation
	default:
		return elevation >= w.MinElevation && elevation <= w.MaxElevation
	}
}

// InFieldOfView reports whether the sun is strictly inside the window's
// field of view. The FOV boundary itself does not count as inside.
func (w Window) InFieldOfView(sunAzimuth, elevation float64) bool {
	gamma := w.Gamma(sunAzimuth)
	return gamma < w.FOVLeft && gamma > -w.FOVRight && w.ValidElevation(elevation)
}

// InBlindSpot reports whether the sun falls inside the configured blind-spot
// sector. The sector is measured from the left FOV edge inward.
func (w Window) InBlindSpot(sunAzimuth, elevation float64) bool {
	if !w.BlindSpotEnabled {
		return false
	}
	gamma := w.Gamma(sunAzimuth)
	leftEdge := w.FOVLeft - w.BlindSpotLeft
	rightEdge := w.FOVLeft - w.BlindSpotRight
	in := gamma <= leftEdge && gamma >= rightEdge
	if in && w.BlindSpotHasElevation {
		in = elevation <= w.BlindSpotElevation
	}
	return in
}

// AzimuthRange returns the absolute [min, max] azimuth of the FOV in
// [0, 360) degrees.
func (w Window) AzimuthRange() (float64, float64) {
	min := math.Mod(w.Azimuth-w.FOVLeft+360.0, 360.0)
	max := math.Mod(w.Azimuth+w.FOVRight+360.0, 360.0)
	return min, max
}

// smoothstep is the cubic Hermite interpolant on [0, 1].
func smoothstep(t float64) float64 {
	t = clamp(t, 0, 1)
	return t * t * (3 - 2*t)
}

// SafetyMargin returns the multiplier (>= 1.0) applied to the projected
// blind height so covers over-extend slightly at angles where the raw
// projection under-blocks. Terms add, and the gamma term is symmetric in
// sign. Combined maximum is 1.0 + 0.20 + max(0.15, 0.10) = 1.35; the
// documented ceiling of 1.45 would require both elevation terms at once,
// which is impossible.
func SafetyMargin(gamma, elevation float64) float64 {
	margin := 1.0

	gammaAbs := math.Abs(gamma)
	if gammaAbs > MarginGammaThreshold {
		t := (gammaAbs - MarginGammaThreshold) / (90.0 - MarginGammaThreshold)
		margin += MarginGammaMax * smoothstep(t)
	}

	if elevation < MarginLowElevThreshold {
		t := (MarginLowElevThreshold - elevation) / MarginLowElevThreshold
		margin += MarginLowElevMax * clamp(t, 0, 1)
	} else if elevation > MarginHighElevThreshold {
		t := (elevation - MarginHighElevThreshold) / (90.0 - MarginHighElevThreshold)
		margin += MarginHighElevMax * clamp(t, 0, 1)
	}

	return margin
}

// EdgeCase checks the extreme-angle fallbacks that short-circuit the main
// projection formula. It returns the fallback height and true when one
// applies.
func EdgeCase(elevation, gamma, distance, windowHeight float64) (float64, bool) {
	// Sun nearly horizontal: full coverage is the only safe answer.
	if elevation < EdgeCaseLowElevation {
		return windowHeight, true
	}
	// Sun nearly perpendicular to the window: cos(gamma) blows up.
	if math.Abs(gamma) > EdgeCaseExtremeGamma {
		return windowHeight, true
	}
	// Sun nearly overhead: skip the gamma correction entirely.
	if elevation > EdgeCaseHighElevation {
		h := distance * math.Tan(radians(elevation))
		return clamp(h, 0, windowHeight), true
	}
	return 0, false
}

// ProjectVertical computes the blind height (meters, measured from the
// bottom) that just shades the configured depth of room. revealDepth adds a
// horizontal offset at oblique angles for recessed windows.
func ProjectVertical(elevation, gamma, distance, windowHeight, revealDepth float64) float64 {
	if h, ok := EdgeCase(elevation, gamma, distance, windowHeight); ok {
		return h
	}

	effective := distance
	if revealDepth > 0 && math.Abs(gamma) > RevealDepthGammaThreshold {
		effective += revealDepth * math.Sin(radians(math.Abs(gamma)))
	}

	pathLength := effective / math.Cos(radians(gamma))
	height := pathLength * math.Tan(radians(elevation))
	height *= SafetyMargin(gamma, elevation)

	return clamp(height, 0, windowHeight)
}

// Beta is the profile angle: the sun's effective elevation in the vertical
// plane perpendicular to the window. Result in radians.
func Beta(elevation, gamma float64) float64 {
	return math.Atan(math.Tan(radians(elevation)) / math.Cos(radians(gamma)))
}
