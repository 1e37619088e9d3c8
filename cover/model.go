package cover

import (
	"log/slog"
	"math"

	"sunblind/geometry"
)

// Base carries the inputs shared by every cover geometry: the window the
// cover shades, the current sun position, and the fallback positions used
// when the sun is not a factor.
type Base struct {
	Window geometry.Window

	SunAzimuth   float64
	SunElevation float64

	// SunsetValid marks the period after sunset (plus offset) or before
	// sunrise (plus offset) where the sunset position overrides the default.
	SunsetValid bool

	DefaultPosition int
	SunsetPosition  int

	Limits geometry.Limits
}

// Gamma is the surface solar azimuth for the current sun position.
func (b *Base) Gamma() float64 {
	return b.Window.Gamma(b.SunAzimuth)
}

// SunInView reports whether the sun is inside the window's field of view
// with a valid elevation. Blind spots and sunset offsets are not considered.
func (b *Base) SunInView() bool {
	return b.Window.InFieldOfView(b.SunAzimuth, b.SunElevation)
}

// DirectSunValid reports whether the computed position should drive the
// cover: sun in view, outside any blind spot, outside the sunset period.
func (b *Base) DirectSunValid() bool {
	return b.SunInView() && !b.SunsetValid && !b.Window.InBlindSpot(b.SunAzimuth, b.SunElevation)
}

// Default is the fallback position, switching to the sunset position during
// the sunset offset period.
func (b *Base) Default() int {
	if b.SunsetValid {
		return b.SunsetPosition
	}
	return b.DefaultPosition
}

// Model is one concrete cover geometry. Percent is the raw glare-blocking
// position before any decision layer or limit is applied.
type Model interface {
	Percent() int
	Core() *Base
}

// Vertical is a roller blind or vertical shade. Distance is how deep into
// the room direct sun is tolerated, measured horizontally from the glass.
type Vertical struct {
	Base

	Distance     float64 // meters of tolerated sun ingress
	WindowHeight float64 // meters
	RevealDepth  float64 // meters; 0 disables the reveal-shadow correction
}

// Height returns the blind drop in meters that shades the configured depth.
func (v *Vertical) Height() float64 {
	return geometry.ProjectVertical(v.SunElevation, v.Gamma(), v.Distance, v.WindowHeight, v.RevealDepth)
}

func (v *Vertical) Percent() int {
	return geometry.ToPercent(v.Height(), v.WindowHeight)
}

func (v *Vertical) Core() *Base { return &v.Base }

// Awning is a horizontal projection cover. The extension needed to cast the
// same shadow as the equivalent vertical drop follows from the law of sines.
type Awning struct {
	Vertical

	Length float64 // meters of full extension
	Angle  float64 // degrees below horizontal at the mount
}

// Extension returns the awning extension in meters. It may exceed Length
// when full extension cannot block the sun; Percent clamps via rounding
// against Length.
func (a *Awning) Extension() float64 {
	awnAngle := 90 - a.Angle
	sunAngle := 90 - a.SunElevation
	closure := 180 - awnAngle - sunAngle

	gap := a.WindowHeight - a.Height()
	return gap * math.Sin(radians(sunAngle)) / math.Sin(radians(closure))
}

func (a *Awning) Percent() int {
	pct := geometry.ToPercent(a.Extension(), a.Length)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

func (a *Awning) Core() *Base { return &a.Base }

// Tilt is a venetian-style slatted blind. The slat angle that just blocks
// direct sun follows the optimization in Energies 13(7):1731.
type Tilt struct {
	Base

	SlatDistance float64 // meters between slats
	SlatDepth    float64 // meters of slat width
	Mode         TiltMode
}

// Beta is the sun's profile angle in radians, the effective elevation seen
// in the plane perpendicular to the window.
func (t *Tilt) Beta() float64 {
	return geometry.Beta(t.SunElevation, t.Gamma())
}

// Angle returns the slat tilt in degrees that blocks direct sun. When the
// slat geometry cannot fully block the sun the discriminant goes negative;
// it is clamped to zero, which yields the closest achievable angle.
func (t *Tilt) Angle() float64 {
	beta := t.Beta()
	ratio := t.SlatDistance / t.SlatDepth

	tanBeta := math.Tan(beta)
	disc := tanBeta*tanBeta - ratio*ratio + 1
	if disc < 0 {
		slog.Debug("slat geometry cannot fully block sun, clamping tilt",
			"beta_deg", beta*180/math.Pi, "ratio", ratio)
		disc = 0
	}

	slat := 2 * math.Atan((tanBeta+math.Sqrt(disc))/(1+ratio))
	return slat * 180 / math.Pi
}

func (t *Tilt) Percent() int {
	return geometry.ToPercent(t.Angle(), t.Mode.MaxDegrees())
}

func (t *Tilt) Core() *Base { return &t.Base }

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// NormalState is the climate-unaware strategy: the computed percentage while
// the sun directly hits the window, the default position otherwise, with the
// configured limits applied last.
func NormalState(m Model) int {
	b := m.Core()
	dsv := b.DirectSunValid()

	state := b.Default()
	if dsv {
		state = m.Percent()
	}
	return b.Limits.Apply(state, dsv)
}
