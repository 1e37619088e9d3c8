package geometry

import (
	"math"
	"testing"
)

func TestNormalize180Range(t *testing.T) {
	for deg := -720.0; deg <= 720.0; deg += 7.3 {
		n := Normalize180(deg)
		if n <= -180.0 || n > 180.0 {
			t.Errorf("Normalize180(%v) = %v, outside (-180, 180]", deg, n)
		}
	}
}

func TestGammaWrapAround(t *testing.T) {
	// Window facing 10°, sun at 350°: the sun is 20° to the left across
	// the north wrap.
	got := Gamma(10, 350)
	if math.Abs(got-20) > 1e-9 {
		t.Errorf("Gamma(10, 350) = %v, want 20", got)
	}
	got = Gamma(350, 10)
	if math.Abs(got+20) > 1e-9 {
		t.Errorf("Gamma(350, 10) = %v, want -20", got)
	}
}

func TestInFieldOfViewBoundary(t *testing.T) {
	w := Window{Azimuth: 180, FOVLeft: 45, FOVRight: 45}

	cases := []struct {
		sunAzi float64
		want   bool
	}{
		{180, true},    // gamma 0, dead centre
		{135, false},   // gamma exactly +45 (boundary excluded)
		{225, false},   // gamma exactly -45
		{135.1, true},  // just inside left edge
		{224.9, true},  // just inside right edge
		{100, false},   // well outside
		{0, false},     // behind
	}
	for _, tc := range cases {
		if got := w.InFieldOfView(tc.sunAzi, 30); got != tc.want {
			t.Errorf("InFieldOfView(sun=%v) = %v, want %v", tc.sunAzi, got, tc.want)
		}
	}

	if w.InFieldOfView(180, -1) {
		t.Error("sun below horizon should not be in view with default elevation bounds")
	}
}

func TestValidElevationBounds(t *testing.T) {
	w := Window{Azimuth: 180, FOVLeft: 90, FOVRight: 90, MinElevation: 10, HasMinElevation: true}
	if w.ValidElevation(5) {
		t.Error("elevation 5 should be invalid with min 10")
	}
	if !w.ValidElevation(15) {
		t.Error("elevation 15 should be valid with min 10")
	}

	w.MaxElevation = 60
	w.HasMaxElevation = true
	if w.ValidElevation(70) {
		t.Error("elevation 70 should be invalid with max 60")
	}
}

func TestBlindSpot(t *testing.T) {
	w := Window{
		Azimuth: 180, FOVLeft: 45, FOVRight: 45,
		BlindSpotLeft: 10, BlindSpotRight: 30,
		BlindSpotElevation: 40, BlindSpotHasElevation: true,
		BlindSpotEnabled: true,
	}
	// Sector covers gamma in [15, 35].
	if !w.InBlindSpot(160, 20) { // gamma 20, elevation below ceiling
		t.Error("gamma 20 at elevation 20 should be in blind spot")
	}
	if w.InBlindSpot(160, 50) { // above elevation ceiling
		t.Error("gamma 20 at elevation 50 should be above blind spot ceiling")
	}
	if w.InBlindSpot(175, 20) { // gamma 5, outside sector
		t.Error("gamma 5 should be outside blind spot sector")
	}

	w.BlindSpotEnabled = false
	if w.InBlindSpot(160, 20) {
		t.Error("disabled blind spot must never trigger")
	}
}

func TestEdgeCasesDominate(t *testing.T) {
	const hWin = 2.0

	// Elevation 1°: fully closed regardless of the rest.
	if got := ProjectVertical(1, 0, 0.5, hWin, 0); got != hWin {
		t.Errorf("elevation 1° gave %v, want full height %v", got, hWin)
	}
	// |gamma| 87°: fully closed.
	if got := ProjectVertical(45, 87, 0.5, hWin, 0); got != hWin {
		t.Errorf("gamma 87° gave %v, want full height %v", got, hWin)
	}
	if got := ProjectVertical(45, -87, 0.5, hWin, 0); got != hWin {
		t.Errorf("gamma -87° gave %v, want full height %v", got, hWin)
	}
	// Elevation 89°: simplified overhead formula, clamped to window height.
	got := ProjectVertical(89, 0, 0.5, hWin, 0)
	if got < 0 || got > hWin {
		t.Errorf("elevation 89° gave %v, want within [0, %v]", got, hWin)
	}
	// Elevation 85° is below the overhead threshold, no edge case.
	if _, ok := EdgeCase(85, 0, 0.5, hWin); ok {
		t.Error("elevation 85° should not trigger the overhead edge case")
	}
}

func TestSafetyMarginBaseline(t *testing.T) {
	if got := SafetyMargin(0, 45); got != 1.0 {
		t.Errorf("SafetyMargin(0, 45) = %v, want exactly 1.0", got)
	}
	for _, gamma := range []float64{0, 15, 30, 45} {
		if got := SafetyMargin(gamma, 45); got != 1.0 {
			t.Errorf("SafetyMargin(%v, 45) = %v, want 1.0", gamma, got)
		}
	}
}

func TestSafetyMarginMonotonicInGamma(t *testing.T) {
	prev := 0.0
	for gamma := 45.0; gamma <= 90.0; gamma += 5.0 {
		m := SafetyMargin(gamma, 45)
		if m < prev {
			t.Errorf("margin decreased at gamma %v: %v < %v", gamma, m, prev)
		}
		prev = m
	}
	if max := SafetyMargin(90, 45); max > 1.2+1e-9 {
		t.Errorf("gamma margin alone = %v, want <= 1.2", max)
	}
}

func TestSafetyMarginSymmetric(t *testing.T) {
	for _, gamma := range []float64{50, 70, 85} {
		pos := SafetyMargin(gamma, 45)
		neg := SafetyMargin(-gamma, 45)
		if math.Abs(pos-neg) > 1e-12 {
			t.Errorf("margin asymmetric at |gamma|=%v: %v vs %v", gamma, pos, neg)
		}
	}
}

func TestSafetyMarginCeilings(t *testing.T) {
	cases := []struct {
		gamma, elev float64
	}{
		{90, 0}, {90, 90}, {85, 5}, {85, 85}, {0, 0}, {0, 90},
	}
	for _, tc := range cases {
		m := SafetyMargin(tc.gamma, tc.elev)
		if m > 1.45 {
			t.Errorf("SafetyMargin(%v, %v) = %v, exceeds 1.45", tc.gamma, tc.elev, m)
		}
		if m < 1.0 {
			t.Errorf("SafetyMargin(%v, %v) = %v, below 1.0", tc.gamma, tc.elev, m)
		}
	}
}

func TestProjectVerticalReference(t *testing.T) {
	// Sun dead ahead at 45°, 0.5 m depth, 2 m window: height = 0.5 m.
	got := ProjectVertical(45, 0, 0.5, 2.0, 0)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("ProjectVertical(45, 0, 0.5, 2, 0) = %v, want 0.5", got)
	}
	if pct := ToPercent(got, 2.0); pct != 25 {
		t.Errorf("percentage = %v, want 25", pct)
	}
}

func TestRevealDepthAddsShadowOffset(t *testing.T) {
	without := ProjectVertical(45, 30, 0.5, 3.0, 0)
	with := ProjectVertical(45, 30, 0.5, 3.0, 0.3)
	if with <= without {
		t.Errorf("reveal depth should raise the projection: %v <= %v", with, without)
	}
	// Below the gamma threshold the reveal depth is ignored.
	flatWithout := ProjectVertical(45, 5, 0.5, 3.0, 0)
	flatWith := ProjectVertical(45, 5, 0.5, 3.0, 0.3)
	if flatWith != flatWithout {
		t.Errorf("reveal depth applied below gamma threshold: %v != %v", flatWith, flatWithout)
	}
}

func TestToPercentRoundTrip(t *testing.T) {
	const max = 2.0
	for _, pct := range []int{0, 25, 50, 75, 100} {
		value := float64(pct) / 100.0 * max
		if got := ToPercent(value, max); got != pct {
			t.Errorf("round trip %d%% -> %v -> %d%%", pct, value, got)
		}
	}
}

func TestLimitsApply(t *testing.T) {
	l := Limits{Min: 20, Max: 80}

	if got := l.Apply(10, false); got != 20 {
		t.Errorf("Apply(10) = %v, want 20", got)
	}
	if got := l.Apply(90, false); got != 80 {
		t.Errorf("Apply(90) = %v, want 80", got)
	}
	if got := l.Apply(150, false); got != 80 {
		t.Errorf("Apply(150) = %v, want 80", got)
	}
	if got := l.Apply(-5, false); got != 20 {
		t.Errorf("Apply(-5) = %v, want 20", got)
	}
}

func TestLimitsConditional(t *testing.T) {
	l := Limits{Min: 20, Max: 80, MinConditional: true, MaxConditional: true}

	// Conditional bounds only bite while the sun is directly visible.
	if got := l.Apply(10, false); got != 10 {
		t.Errorf("conditional min applied without sun: got %v", got)
	}
	if got := l.Apply(10, true); got != 20 {
		t.Errorf("conditional min not applied with sun: got %v", got)
	}
	if got := l.Apply(95, false); got != 95 {
		t.Errorf("conditional max applied without sun: got %v", got)
	}
	if got := l.Apply(95, true); got != 80 {
		t.Errorf("conditional max not applied with sun: got %v", got)
	}
}

func TestLimitsIdempotent(t *testing.T) {
	l := Limits{Min: 15, Max: 85}
	for v := -20; v <= 120; v += 5 {
		once := l.Apply(v, true)
		twice := l.Apply(once, true)
		if once != twice {
			t.Errorf("Apply not idempotent for %d: %d then %d", v, once, twice)
		}
	}
}

func TestInterpolate(t *testing.T) {
	xs := []float64{0, 100}
	ys := []float64{10, 90}

	cases := []struct {
		in, want float64
	}{
		{0, 10}, {100, 90}, {50, 50}, {25, 30}, {-10, 10}, {110, 90},
	}
	for _, tc := range cases {
		if got := Interpolate(tc.in, xs, ys); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Interpolate(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}

	// Malformed table passes the value through.
	if got := Interpolate(42, []float64{0}, []float64{1}); got != 42 {
		t.Errorf("malformed table: got %v, want 42", got)
	}
}

func TestBeta(t *testing.T) {
	// gamma 0: beta equals the elevation.
	if got := Beta(45, 0); math.Abs(got-math.Pi/4) > 1e-9 {
		t.Errorf("Beta(45, 0) = %v rad, want pi/4", got)
	}
	// Oblique gamma steepens the profile angle.
	if Beta(45, 60) <= Beta(45, 0) {
		t.Error("beta should grow with |gamma|")
	}
}
