// Package solar computes the sun's apparent position and the daily event
// times (sunrise, sunset, window entry/exit) the control loop schedules
// around. The position algorithm follows the NOAA solar calculator and is
// accurate to roughly one arcminute, which is far below the angular
// resolution any cover actuator can express.
package solar

import (
	"math"
	"time"
)

// Position is the sun's apparent position for an observer at a moment.
type Position struct {
	Azimuth   float64   // degrees clockwise from north
	Elevation float64   // degrees above the horizon, refraction-corrected
	Time      time.Time // evaluation time
}

// AboveHorizon reports whether any part of the solar disc is visible.
// The -0.833° threshold accounts for the disc radius and typical refraction.
func (p Position) AboveHorizon() bool {
	return p.Elevation > -0.833
}

// Location is an observer position on Earth.
type Location struct {
	Latitude  float64
	Longitude float64
}

func deg2rad(deg float64) float64 { return deg * math.Pi / 180.0 }

func rad2deg(rad float64) float64 { return rad * 180.0 / math.Pi }

// julianDate converts a UTC time to a Julian date.
func julianDate(t time.Time) float64 {
	year := t.Year()
	month := int(t.Month())
	day := t.Day()

	if month <= 2 {
		year--
		month += 12
	}

	a := year / 100
	b := 2 - a + a/4

	jd := float64(int(365.25*float64(year+4716))) +
		float64(int(30.6001*float64(month+1))) +
		float64(day+b) - 1524.5

	frac := (float64(t.Hour()) + float64(t.Minute())/60.0 + float64(t.Second())/3600.0) / 24.0
	return jd + frac
}

// solarCoords returns the sun's declination (degrees) and the equation of
// time (minutes) for a Julian century.
func solarCoords(jc float64) (dec, eqTime float64) {
	// Geometric mean longitude and anomaly.
	l0 := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360.0)
	m := 357.52911 + jc*(35999.05029-0.0001537*jc)
	mRad := deg2rad(m)

	// Equation of center.
	c := math.Sin(mRad)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*mRad)*(0.019993-0.000101*jc) +
		math.Sin(3*mRad)*0.000289

	trueLong := l0 + c
	omega := 125.04 - 1934.136*jc
	lambda := trueLong - 0.00569 - 0.00478*math.Sin(deg2rad(omega))

	// Obliquity of the ecliptic.
	epsilon0 := 23.0 + (26.0+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813))))/60.0/60.0
	epsilon := epsilon0 + 0.00256*math.Cos(deg2rad(omega))

	dec = rad2deg(math.Asin(math.Sin(deg2rad(epsilon)) * math.Sin(deg2rad(lambda))))

	// Equation of time in minutes.
	y := math.Tan(deg2rad(epsilon / 2))
	y *= y
	eqTime = 4.0 * rad2deg(y*math.Sin(2*deg2rad(l0))-
		2.0*0.016708634*math.Sin(mRad)+
		4.0*0.016708634*y*math.Sin(mRad)*math.Cos(2*deg2rad(l0))-
		0.5*y*y*math.Sin(4*deg2rad(l0))-
		1.25*0.016708634*0.016708634*math.Sin(2*mRad))
	return dec, eqTime
}

// Compute calculates the sun's position for loc at time t.
func Compute(loc Location, t time.Time) Position {
	utc := t.UTC()
	jd := julianDate(utc)
	jc := (jd - 2451545.0) / 36525.0

	dec, eqTime := solarCoords(jc)

	// True solar time in minutes of the UTC day.
	minutes := float64(utc.Hour())*60 + float64(utc.Minute()) + float64(utc.Second())/60.0
	trueSolar := math.Mod(minutes+eqTime+4.0*loc.Longitude, 1440.0)
	if trueSolar < 0 {
		trueSolar += 1440.0
	}

	// Hour angle, degrees: negative before local solar noon.
	ha := trueSolar/4.0 - 180.0
	if ha < -180 {
		ha += 360
	}

	latRad := deg2rad(loc.Latitude)
	decRad := deg2rad(dec)
	haRad := deg2rad(ha)

	sinAlt := math.Sin(latRad)*math.Sin(decRad) + math.Cos(latRad)*math.Cos(decRad)*math.Cos(haRad)
	altitude := rad2deg(math.Asin(sinAlt))

	cosAz := (math.Sin(decRad) - math.Sin(latRad)*math.Sin(deg2rad(altitude))) /
		(math.Cos(latRad) * math.Cos(deg2rad(altitude)))
	if cosAz > 1.0 {
		cosAz = 1.0
	}
	if cosAz < -1.0 {
		cosAz = -1.0
	}
	azimuth := rad2deg(math.Acos(cosAz))
	if ha > 0 {
		azimuth = 360.0 - azimuth
	}

	// Atmospheric refraction lifts the apparent sun near the horizon.
	if altitude > -0.833 && altitude < 85.0 {
		var refraction float64
		tanAlt := math.Tan(deg2rad(altitude))
		if altitude > 5.0 {
			refraction = 58.1/tanAlt - 0.07/(tanAlt*tanAlt*tanAlt) +
				0.000086/(tanAlt*tanAlt*tanAlt*tanAlt*tanAlt)
		} else if altitude > -0.575 {
			refraction = 1735.0 + altitude*(-518.2+altitude*(103.4+altitude*(-12.79+altitude*0.711)))
		}
		altitude += refraction / 3600.0
	}

	return Position{
		Azimuth:   azimuth,
		Elevation: altitude,
		Time:      t,
	}
}

// DayEvents holds the solar event times for one civil day.
type DayEvents struct {
	Sunrise   time.Time
	SolarNoon time.Time
	Sunset    time.Time
	Polar     bool // true when the sun never rises or never sets
}

// Events computes sunrise, solar noon and sunset for the civil day containing
// t in t's location. At polar latitudes where the sun never crosses the
// horizon, Polar is set and sunrise/sunset fall back to solar noon.
func Events(loc Location, t time.Time) DayEvents {
	// Noon UTC of the civil day anchors the Julian century; the equation of
	// time varies by well under a second across one day.
	year, month, day := t.Date()
	noonGuess := time.Date(year, month, day, 12, 0, 0, 0, t.Location()).UTC()
	jc := (julianDate(noonGuess) - 2451545.0) / 36525.0

	dec, eqTime := solarCoords(jc)

	// Solar noon in minutes of the UTC day.
	noonMinutes := 720.0 - 4.0*loc.Longitude - eqTime
	midnight := time.Date(year, month, day, 0, 0, 0, 0, t.Location()).UTC()
	dayStartUTC := time.Date(midnight.Year(), midnight.Month(), midnight.Day(), 0, 0, 0, 0, time.UTC)
	solarNoon := dayStartUTC.Add(time.Duration(noonMinutes * float64(time.Minute))).In(t.Location())

	// Sunrise hour angle, zenith 90.833°.
	latRad := deg2rad(loc.Latitude)
	decRad := deg2rad(dec)
	cosHA := (math.Cos(deg2rad(90.833)) - math.Sin(latRad)*math.Sin(decRad)) /
		(math.Cos(latRad) * math.Cos(decRad))

	if cosHA > 1.0 || cosHA < -1.0 {
		return DayEvents{Sunrise: solarNoon, SolarNoon: solarNoon, Sunset: solarNoon, Polar: true}
	}

	haMinutes := 4.0 * rad2deg(math.Acos(cosHA))
	return DayEvents{
		Sunrise:   solarNoon.Add(-time.Duration(haMinutes * float64(time.Minute))),
		SolarNoon: solarNoon,
		Sunset:    solarNoon.Add(time.Duration(haMinutes * float64(time.Minute))),
	}
}
