package engine

import (
	"time"

	"sunblind/solar"
)

// Status is a point-in-time snapshot of one controller, served over the API.
type Status struct {
	Name   string   `json:"name"`
	Covers []string `json:"covers"`

	State    int    `json:"state"`
	Strategy string `json:"strategy"`

	SunAzimuth     float64 `json:"sun_azimuth"`
	SunElevation   float64 `json:"sun_elevation"`
	Gamma          float64 `json:"gamma"`
	SunInView      bool    `json:"sun_in_view"`
	DirectSunValid bool    `json:"direct_sun_valid"`

	ForceOverride bool `json:"force_override_active"`

	WindowActive bool `json:"window_active"`

	ControlEnabled  bool `json:"control_enabled"`
	ClimateMode     bool `json:"climate_mode"`
	ManualDetection bool `json:"manual_detection"`
	ReturnToDefault bool `json:"return_to_default"`
	UseLux          bool `json:"use_lux"`
	UseIrradiance   bool `json:"use_irradiance"`
	PreferOutside   bool `json:"prefer_outside_temp"`

	ManualCovers []string        `json:"manual_covers"`
	Targets      map[string]int  `json:"targets"`
	Waiting      map[string]bool `json:"waiting"`
	Retries      map[string]int  `json:"retries"`

	SunStart *time.Time `json:"sun_start,omitempty"`
	SunEnd   *time.Time `json:"sun_end,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Status builds the current snapshot. The sun entry/exit times are the
// moments the sun crosses into and out of the window's field of view today.
func (c *Controller) Status() Status {
	now := c.now()
	model := c.buildModel(now)
	base := model.Core()

	c.mu.Lock()
	s := Status{
		Name:            c.opts.Name,
		Covers:          c.opts.Covers,
		State:           c.lastComputed,
		Strategy:        c.lastStrategy,
		ControlEnabled:  c.controlEnabled,
		ClimateMode:     c.climateMode,
		ManualDetection: c.manualDetect,
		ReturnToDefault: c.returnToDefault,
		UseLux:          c.useLux,
		UseIrradiance:   c.useIrradiance,
		PreferOutside:   c.preferOutside,
		Targets:         make(map[string]int, len(c.target)),
		Waiting:         make(map[string]bool, len(c.waiting)),
		Retries:         make(map[string]int, len(c.retries)),
		UpdatedAt:       now,
	}
	for k, v := range c.target {
		s.Targets[k] = v
	}
	for k, v := range c.waiting {
		s.Waiting[k] = v
	}
	for k, v := range c.retries {
		s.Retries[k] = v
	}
	c.mu.Unlock()

	s.SunAzimuth = base.SunAzimuth
	s.SunElevation = base.SunElevation
	s.Gamma = base.Gamma()
	s.SunInView = base.SunInView()
	s.DirectSunValid = base.DirectSunValid()
	s.WindowActive = c.windowActive(now)
	s.ForceOverride = c.forceOverrideActive()
	s.ManualCovers = c.override.List()

	w := c.opts.Window
	first, last, ok := solar.CrossingTimes(c.opts.Location, now, func(p solar.Position) bool {
		return w.InFieldOfView(p.Azimuth, p.Elevation)
	})
	if ok {
		s.SunStart = &first
		s.SunEnd = &last
	}
	return s
}
