package cover

import "math"

// ClimateData carries the sensor readings the climate strategy weighs.
// Optional readings are pointers; nil means the sensor is not configured or
// currently unavailable.
type ClimateData struct {
	InsideTemp  *float64
	OutsideTemp *float64

	TempLow           *float64 // below this indoors it is winter
	TempHigh          *float64 // above this indoors it is summer
	OutsideTempSummer *float64 // summer additionally needs outdoors above this

	// PreferOutside makes the outside reading drive the winter/summer
	// decision when available.
	PreferOutside bool

	// Presence is nil when no presence source is configured, which counts
	// as present.
	Presence *bool

	// WeatherCondition is the current condition string; SunnyConditions
	// lists the conditions under which direct sun is expected.
	WeatherCondition string
	HasWeather       bool
	SunnyConditions  []string

	Lux                 *float64
	LuxThreshold        float64
	UseLux              bool
	Irradiance          *float64
	IrradianceThreshold float64
	UseIrradiance       bool

	// TransparentBlind marks screen-type fabric that passes heat even when
	// closed for glare.
	TransparentBlind bool
}

// CurrentTemp picks the temperature driving the season decision: outside
// when preferred and available, inside otherwise.
func (c *ClimateData) CurrentTemp() *float64 {
	if c.PreferOutside && c.OutsideTemp != nil {
		return c.OutsideTemp
	}
	return c.InsideTemp
}

// IsPresent reports occupancy; an unconfigured presence source counts as
// present.
func (c *ClimateData) IsPresent() bool {
	if c.Presence == nil {
		return true
	}
	return *c.Presence
}

// IsWinter reports whether the driving temperature is below the winter
// threshold.
func (c *ClimateData) IsWinter() bool {
	temp := c.CurrentTemp()
	if c.TempLow == nil || temp == nil {
		return false
	}
	return *temp < *c.TempLow
}

// outsideHigh gates summer on the outdoor reading; an unconfigured threshold
// or missing reading does not block summer.
func (c *ClimateData) outsideHigh() bool {
	if c.OutsideTempSummer == nil || c.OutsideTemp == nil {
		return true
	}
	return *c.OutsideTemp > *c.OutsideTempSummer
}

// IsSummer reports whether the driving temperature exceeds the summer
// threshold and the outdoor reading agrees.
func (c *ClimateData) IsSummer() bool {
	temp := c.CurrentTemp()
	if c.TempHigh == nil || temp == nil {
		return false
	}
	return *temp > *c.TempHigh && c.outsideHigh()
}

// IsSunny reports whether the weather condition permits direct sun. Without
// a weather source, or without a condition list, sun is assumed.
func (c *ClimateData) IsSunny() bool {
	if !c.HasWeather {
		return true
	}
	if len(c.SunnyConditions) == 0 {
		return true
	}
	for _, cond := range c.SunnyConditions {
		if c.WeatherCondition == cond {
			return true
		}
	}
	return false
}

// LowLight reports whether either light sensor sits at or below its
// threshold. Disabled or unavailable sensors never report low light.
func (c *ClimateData) LowLight() bool {
	if c.UseLux && c.Lux != nil && *c.Lux <= c.LuxThreshold {
		return true
	}
	if c.UseIrradiance && c.Irradiance != nil && *c.Irradiance <= c.IrradianceThreshold {
		return true
	}
	return false
}

// ClimateState is the climate-aware strategy. It routes by cover geometry
// and occupancy, then applies the configured limits.
func ClimateState(m Model, data *ClimateData) int {
	b := m.Core()

	var state int
	if t, ok := m.(*Tilt); ok {
		state = tiltState(t, data)
	} else {
		state = flatState(m, data)
	}
	return b.Limits.Apply(state, b.DirectSunValid())
}

// flatState handles vertical and awning covers.
func flatState(m Model, data *ClimateData) int {
	if data.IsPresent() {
		return flatWithPresence(m, data)
	}
	return flatWithoutPresence(m, data)
}

// flatWithPresence optimizes for comfort, in fixed priority order: winter
// solar gain first, then low light, then transparent-blind heat blocking,
// then plain glare control.
func flatWithPresence(m Model, data *ClimateData) int {
	b := m.Core()
	summer := data.IsSummer()

	if data.IsWinter() && b.SunInView() {
		return 100
	}
	if !summer && (data.LowLight() || !data.IsSunny()) {
		return b.Default()
	}
	if summer && data.TransparentBlind {
		return PositionClosed
	}
	return NormalState(m)
}

// flatWithoutPresence optimizes for energy: block heat in summer, harvest
// sun in winter, default otherwise. Light conditions are irrelevant with
// nobody home.
func flatWithoutPresence(m Model, data *ClimateData) int {
	b := m.Core()
	if b.SunInView() {
		if data.IsSummer() {
			return PositionClosed
		}
		if data.IsWinter() {
			return 100
		}
	}
	return b.Default()
}

func tiltState(t *Tilt, data *ClimateData) int {
	if data.IsPresent() {
		return tiltWithPresence(t, data)
	}
	return tiltWithoutPresence(t, data)
}

// tiltWithPresence: summer gets the fixed heat-blocking angle, winter and
// low light fall back to the computed angle, everything else sits mostly
// open for daylight.
func tiltWithPresence(t *Tilt, data *ClimateData) int {
	maxDeg := t.Mode.MaxDegrees()

	if t.SunInView() {
		if data.IsSummer() {
			return int(math.Round(SummerTiltAngle / maxDeg * 100))
		}
		if data.IsWinter() {
			return NormalState(t)
		}
		if data.LowLight() || !data.IsSunny() {
			return NormalState(t)
		}
	}
	return int(math.Round(DefaultTiltAngle / maxDeg * 100))
}

// tiltWithoutPresence: closed in summer; in winter bi-directional slats
// align parallel to the sun beams, single-direction slats sit at the
// daylight angle; otherwise the plain strategy applies.
func tiltWithoutPresence(t *Tilt, data *ClimateData) int {
	maxDeg := t.Mode.MaxDegrees()

	if t.SunInView() {
		if data.IsSummer() {
			return PositionClosed
		}
		if data.IsWinter() && t.Mode == TiltMode2 {
			betaDeg := t.Beta() * 180 / math.Pi
			return int(math.Round((betaDeg + 90) / maxDeg * 100))
		}
		return int(math.Round(DefaultTiltAngle / maxDeg * 100))
	}
	return NormalState(t)
}
