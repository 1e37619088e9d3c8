package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"sunblind/cover"
	"sunblind/dispatch"
	"sunblind/geometry"
	"sunblind/history"
	"sunblind/solar"
	"sunblind/statebus"
)

// StateSource is the slice of the state bus the controller reads.
type StateSource interface {
	Get(entityID string) (statebus.State, bool)
	Float(entityID string) *float64
	Bool(entityID string) *bool
	String(entityID string) (string, bool)
}

// CommandSender issues movement commands.
type CommandSender interface {
	Send(ctx context.Context, entityID string, position int, tilt bool, caps dispatch.Capabilities) (dispatch.Command, error)
}

// Recorder receives one tick record per cover per evaluation.
type Recorder interface {
	Push(rec history.TickRecord)
}

// Controller drives the covers of one window.
type Controller struct {
	opts   Options
	states StateSource
	sender CommandSender
	rec    Recorder
	log    *slog.Logger
	now    func() time.Time

	override *overrideTracker

	mu             sync.Mutex
	target         map[string]int
	waiting        map[string]bool
	cmdTime        map[string]time.Time
	graceTimers    map[string]*time.Timer
	retries        map[string]int
	lastVerify     map[string]time.Time
	neverCommanded map[string]bool
	startedAt      time.Time

	lastComputed     int
	lastStrategy     string
	lastSunValid     *bool
	lastWindowActive *bool

	controlEnabled  bool
	climateMode     bool
	manualDetect    bool
	returnToDefault bool
	useLux          bool
	useIrradiance   bool
	preferOutside   bool
}

// NewController wires a controller; it does nothing until Tick is called.
func NewController(opts Options, states StateSource, sender CommandSender, rec Recorder, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("controller", opts.Name)
	if opts.MinPositionDelta <= 0 {
		opts.MinPositionDelta = 1
	}

	return &Controller{
		opts:   opts,
		states: states,
		sender: sender,
		rec:    rec,
		log:    log,
		now:    time.Now,

		override: newOverrideTracker(opts.ManualDuration, opts.ManualTimerRestart, opts.ManualThreshold, log),

		target:         make(map[string]int),
		waiting:        make(map[string]bool),
		cmdTime:        make(map[string]time.Time),
		graceTimers:    make(map[string]*time.Timer),
		retries:        make(map[string]int),
		lastVerify:     make(map[string]time.Time),
		neverCommanded: make(map[string]bool),
		startedAt:      time.Now(),

		controlEnabled:  true,
		climateMode:     opts.ClimateMode,
		manualDetect:    opts.ManualDetection,
		returnToDefault: opts.ReturnToDefaultAtEnd,
		useLux:          true,
		useIrradiance:   true,
		preferOutside:   opts.PreferOutsideTemp,
	}
}

func (c *Controller) Name() string { return c.opts.Name }

func (c *Controller) Covers() []string { return c.opts.Covers }

// sunPosition returns the current sun azimuth and elevation, preferring the
// configured sun entity and falling back to internal computation.
func (c *Controller) sunPosition(now time.Time) (float64, float64) {
	if c.opts.SunEntity != "" {
		if st, ok := c.states.Get(c.opts.SunEntity); ok {
			azi := st.Attr("azimuth")
			elev := st.Attr("elevation")
			if azi != nil && elev != nil {
				return *azi, *elev
			}
		}
	}
	pos := solar.Compute(c.opts.Location, now)
	return pos.Azimuth, pos.Elevation
}

// sunsetValid reports whether now falls after sunset plus offset or before
// sunrise plus offset.
func (c *Controller) sunsetValid(now time.Time) bool {
	ev := solar.Events(c.opts.Location, now)
	if ev.Polar {
		return false
	}
	return now.After(ev.Sunset.Add(c.opts.SunsetOffset)) ||
		now.Before(ev.Sunrise.Add(c.opts.SunriseOffset))
}

// buildModel assembles the cover model for the current sun position.
func (c *Controller) buildModel(now time.Time) cover.Model {
	azi, elev := c.sunPosition(now)
	base := cover.Base{
		Window:          c.opts.Window,
		SunAzimuth:      azi,
		SunElevation:    elev,
		SunsetValid:     c.sunsetValid(now),
		DefaultPosition: c.opts.DefaultPosition,
		SunsetPosition:  c.opts.SunsetPosition,
		Limits:          c.opts.Limits,
	}

	switch c.opts.Type {
	case cover.TypeAwning:
		return &cover.Awning{
			Vertical: cover.Vertical{
				Base:         base,
				Distance:     c.opts.Distance,
				WindowHeight: c.opts.WindowHeight,
				RevealDepth:  c.opts.RevealDepth,
			},
			Length: c.opts.AwningLength,
			Angle:  c.opts.AwningAngle,
		}
	case cover.TypeTilt:
		return &cover.Tilt{
			Base:         base,
			SlatDistance: c.opts.SlatDistance,
			SlatDepth:    c.opts.SlatDepth,
			Mode:         c.opts.TiltMode,
		}
	default:
		return &cover.Vertical{
			Base:         base,
			Distance:     c.opts.Distance,
			WindowHeight: c.opts.WindowHeight,
			RevealDepth:  c.opts.RevealDepth,
		}
	}
}

// readTemp reads a temperature entity; climate devices report it as an
// attribute rather than their state.
func (c *Controller) readTemp(entityID string) *float64 {
	if entityID == "" {
		return nil
	}
	st, ok := c.states.Get(entityID)
	if !ok {
		return nil
	}
	if statebus.Domain(entityID) == "climate" {
		return st.Attr("current_temperature")
	}
	return st.Float()
}

// climateData collects the sensor inputs for the climate strategy.
func (c *Controller) climateData() *cover.ClimateData {
	data := &cover.ClimateData{
		InsideTemp:          c.readTemp(c.opts.TempEntity),
		TempLow:             c.opts.TempLow,
		TempHigh:            c.opts.TempHigh,
		OutsideTempSummer:   c.opts.OutsideTempSummer,
		PreferOutside:       c.preferOutsideOn(),
		SunnyConditions:     c.opts.SunnyConditions,
		LuxThreshold:        c.opts.LuxThreshold,
		IrradianceThreshold: c.opts.IrradianceThreshold,
		UseLux:              c.opts.LuxEntity != "" && c.useLuxOn(),
		UseIrradiance:       c.opts.IrradianceEntity != "" && c.useIrradianceOn(),
		TransparentBlind:    c.opts.TransparentBlind,
	}

	if c.opts.OutsideTempEntity != "" {
		data.OutsideTemp = c.states.Float(c.opts.OutsideTempEntity)
	} else if c.opts.WeatherEntity != "" {
		if st, ok := c.states.Get(c.opts.WeatherEntity); ok {
			data.OutsideTemp = st.Attr("temperature")
		}
	}

	if c.opts.WeatherEntity != "" {
		if cond, ok := c.states.String(c.opts.WeatherEntity); ok {
			data.WeatherCondition = cond
			data.HasWeather = true
		}
	}

	if c.opts.PresenceEntity != "" {
		data.Presence = c.states.Bool(c.opts.PresenceEntity)
	}
	if c.opts.LuxEntity != "" {
		data.Lux = c.states.Float(c.opts.LuxEntity)
	}
	if c.opts.IrradianceEntity != "" {
		data.Irradiance = c.states.Float(c.opts.IrradianceEntity)
	}
	return data
}

// computeState evaluates the active strategy and post-processing.
func (c *Controller) computeState(m cover.Model) (state int, strategy string) {
	if c.climateModeOn() {
		state = cover.ClimateState(m, c.climateData())
		strategy = "climate"
	} else {
		state = cover.NormalState(m)
		strategy = "basic"
	}

	if r := c.opts.PositionRange; r != nil {
		mapped := geometry.Interpolate(float64(state),
			[]float64{0, 100}, []float64{float64(r[0]), float64(r[1])})
		state = int(math.Round(mapped))
	}
	if c.opts.InverseState {
		state = cover.Invert(state)
	}
	return state, strategy
}

// forceOverrideActive reports whether any configured override sensor reads
// on. Unavailable or missing sensors count as inactive. While active, the
// computed position is pinned; in-flight commands are not canceled.
func (c *Controller) forceOverrideActive() bool {
	for _, entity := range c.opts.ForceOverrideEntities {
		if v := c.states.Bool(entity); v != nil && *v {
			return true
		}
	}
	return false
}

// timeOfDay resolves a "15:04" boundary, preferring the entity override.
func (c *Controller) timeOfDay(fixed, entityID string, now time.Time) (time.Time, bool) {
	raw := fixed
	if entityID != "" {
		if v, ok := c.states.String(entityID); ok {
			raw = v
		}
	}
	if raw == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		c.log.Error("unparseable time boundary", "value", raw, "err", err)
		return time.Time{}, false
	}
	return time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location()), true
}

// windowActive reports whether now lies inside the configured daily window.
func (c *Controller) windowActive(now time.Time) bool {
	start, hasStart := c.timeOfDay(c.opts.StartTime, c.opts.StartTimeEntity, now)
	end, hasEnd := c.timeOfDay(c.opts.EndTime, c.opts.EndTimeEntity, now)

	// Midnight as an end boundary means end of day, not start of it.
	if hasEnd && end.Hour() == 0 && end.Minute() == 0 {
		end = end.AddDate(0, 0, 1)
	}

	if hasStart && hasEnd && start.After(end) {
		c.log.Error("window start time is after end time", "start", c.opts.StartTime, "end", c.opts.EndTime)
	}
	afterStart := !hasStart || !now.Before(start)
	beforeEnd := !hasEnd || now.Before(end)
	return afterStart && beforeEnd
}

// Tick runs one control evaluation.
func (c *Controller) Tick(ctx context.Context) {
	now := c.now()

	model := c.buildModel(now)
	state, strategy := c.computeState(model)
	if c.forceOverrideActive() {
		state = c.opts.ForceOverridePosition
		strategy = "force_override"
	}
	base := model.Core()

	c.mu.Lock()
	c.lastComputed = state
	c.lastStrategy = strategy
	c.mu.Unlock()

	sunAppeared := c.sunTransition(base.DirectSunValid())
	active := c.windowActive(now)
	c.handleWindowTransition(ctx, active)
	c.override.ResetExpired()

	for _, entity := range c.opts.Covers {
		rec := history.TickRecord{
			Timestamp:    now,
			Controller:   c.opts.Name,
			EntityID:     entity,
			SunAzimuth:   base.SunAzimuth,
			SunElevation: base.SunElevation,
			Gamma:        base.Gamma(),
			SunInView:    base.SunInView(),
			Strategy:     strategy,
			Computed:     state,
			Final:        state,
		}

		if reason := c.gate(entity, state, sunAppeared, active, now); reason != "" {
			rec.Reason = reason
			c.log.Debug("movement gated", "entity", entity, "reason", reason, "state", state)
		} else if cmd, err := c.send(ctx, entity, state); err != nil {
			rec.Reason = "dispatch_error"
			c.log.Error("dispatch failed", "entity", entity, "err", err)
		} else {
			rec.Dispatched = true
			rec.CommandID = cmd.ID
			rec.Final = cmd.Target
		}

		if c.rec != nil {
			c.rec.Push(rec)
		}
	}
}

// gate returns a non-empty reason when the cover should not move.
func (c *Controller) gate(entity string, state int, sunAppeared, windowActive bool, now time.Time) string {
	if !c.ControlEnabled() {
		return "control_disabled"
	}
	if !windowActive {
		return "outside_time_window"
	}
	if c.override.IsManual(entity) {
		return "manual_override"
	}
	// Sun entering view bypasses the magnitude gate for one tick, so covers
	// react even when the clamped result matches the current position. The
	// time gate still applies.
	if !sunAppeared && !c.positionDelta(entity, state) {
		return "delta_too_small"
	}
	if !c.timeDelta(entity, now) {
		return "too_soon"
	}
	return ""
}

// positionDelta reports whether the change is worth a command. Moves to or
// from the special positions (fully open, fully closed, default, sunset)
// always pass, so covers reposition cleanly across sun transitions.
func (c *Controller) positionDelta(entity string, state int) bool {
	current := c.readPosition(entity)
	if current == nil {
		return true
	}

	diff := *current - state
	if diff < 0 {
		diff = -diff
	}
	ok := diff >= c.opts.MinPositionDelta

	specials := []int{0, 100, c.opts.DefaultPosition, c.opts.SunsetPosition}
	for _, s := range specials {
		if state == s || *current == s {
			return diff != 0
		}
	}
	return ok
}

// timeDelta enforces the minimum interval between movements of one cover.
func (c *Controller) timeDelta(entity string, now time.Time) bool {
	if c.opts.MinTimeDelta <= 0 {
		return true
	}
	c.mu.Lock()
	last, ok := c.cmdTime[entity]
	c.mu.Unlock()
	if !ok {
		return true
	}
	return now.Sub(last) >= c.opts.MinTimeDelta
}

// readCaps reads the actuator's reported feature bitmask.
func (c *Controller) readCaps(entity string) dispatch.Capabilities {
	st, ok := c.states.Get(entity)
	if !ok {
		return dispatch.DefaultCapabilities()
	}
	features := st.Attr("supported_features")
	if features == nil {
		return dispatch.DefaultCapabilities()
	}
	return dispatch.ParseCapabilities(int(*features))
}

// readPosition reads the cover's current position, mapping bare open/closed
// states for covers without position reporting.
func (c *Controller) readPosition(entity string) *int {
	st, ok := c.states.Get(entity)
	if !ok {
		return nil
	}
	return c.positionFromState(entity, st)
}

func (c *Controller) positionFromState(entity string, st statebus.State) *int {
	caps := c.readCaps(entity)
	tilt := c.opts.Type == cover.TypeTilt

	var attr *float64
	if tilt && caps.SetTiltPosition {
		attr = st.Attr("current_tilt_position")
	} else if !tilt && caps.SetPosition {
		attr = st.Attr("current_position")
	}
	if attr != nil {
		p := int(math.Round(*attr))
		return &p
	}

	switch st.Value {
	case "open":
		p := 100
		return &p
	case "closed":
		p := 0
		return &p
	}
	return nil
}

// send dispatches a position and starts the grace period.
func (c *Controller) send(ctx context.Context, entity string, state int) (dispatch.Command, error) {
	caps := c.readCaps(entity)
	tilt := c.opts.Type == cover.TypeTilt

	cmd, err := c.sender.Send(ctx, entity, state, tilt, caps)
	if err != nil {
		return dispatch.Command{}, err
	}

	c.mu.Lock()
	c.target[entity] = cmd.Target
	c.waiting[entity] = true
	c.cmdTime[entity] = c.now()
	delete(c.neverCommanded, entity)
	c.startGraceLocked(entity)
	c.mu.Unlock()

	return cmd, nil
}

// startGraceLocked arms the command grace period, replacing any running one.
// Caller holds c.mu.
func (c *Controller) startGraceLocked(entity string) {
	if t, ok := c.graceTimers[entity]; ok {
		t.Stop()
	}
	c.graceTimers[entity] = time.AfterFunc(CommandGracePeriod, func() {
		c.mu.Lock()
		delete(c.graceTimers, entity)
		c.mu.Unlock()
		c.log.Debug("command grace period expired", "entity", entity)
	})
}

// inGrace reports whether the entity's command grace period is running.
func (c *Controller) inGrace(entity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.graceTimers[entity]
	return ok
}

// inStartupGrace suppresses override detection shortly after start.
func (c *Controller) inStartupGrace() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.startedAt) < StartupGracePeriod
}

// sunTransition reports a false-to-true flip of direct sun validity since
// the previous tick.
func (c *Controller) sunTransition(valid bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastSunValid == nil {
		c.lastSunValid = &valid
		return false
	}
	appeared := !*c.lastSunValid && valid
	c.lastSunValid = &valid
	if appeared {
		c.log.Info("sun entered field of view, bypassing magnitude gate")
	}
	return appeared
}

// handleWindowTransition returns covers to the sunset position when the
// daily window closes.
func (c *Controller) handleWindowTransition(ctx context.Context, active bool) {
	c.mu.Lock()
	if c.lastWindowActive == nil {
		c.lastWindowActive = &active
		c.mu.Unlock()
		return
	}
	changed := *c.lastWindowActive != active
	c.lastWindowActive = &active
	c.mu.Unlock()

	if !changed {
		return
	}
	c.log.Info("daily time window changed", "active", active)

	if active || !c.returnToDefaultOn() || !c.ControlEnabled() {
		return
	}

	state := c.opts.SunsetPosition
	if c.opts.InverseState {
		state = cover.Invert(state)
	}
	for _, entity := range c.opts.Covers {
		if _, err := c.send(ctx, entity, state); err != nil {
			c.log.Error("end-of-window reposition failed", "entity", entity, "err", err)
		}
	}
}

// OnCoverState processes a position report from one of this controller's
// covers: completes in-flight commands and detects manual intervention.
func (c *Controller) OnCoverState(entity string, st statebus.State) {
	if c.opts.IgnoreIntermediate && (st.Value == "opening" || st.Value == "closing") {
		return
	}

	pos := c.positionFromState(entity, st)

	c.mu.Lock()
	waiting := c.waiting[entity]
	target, hasTarget := c.target[entity]
	expected := c.lastComputed
	if hasTarget {
		expected = target
	}
	c.mu.Unlock()

	if waiting {
		if c.inGrace(entity) {
			return
		}
		if pos != nil && *pos == target {
			c.mu.Lock()
			c.waiting[entity] = false
			c.mu.Unlock()
			c.log.Debug("target position reached", "entity", entity, "position", *pos)
		}
		return
	}

	if !c.manualDetectOn() || !c.ControlEnabled() {
		return
	}
	if c.inStartupGrace() {
		c.log.Debug("position change ignored during startup grace", "entity", entity)
		return
	}
	if pos == nil {
		return
	}
	c.override.Observe(entity, *pos, expected)
}

// SetManualPosition moves a cover to an explicit position through the
// normal dispatch path, without marking it manual.
func (c *Controller) SetManualPosition(ctx context.Context, entity string, position int) error {
	found := false
	for _, e := range c.opts.Covers {
		if e == entity {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("cover %s not managed by controller %s", entity, c.opts.Name)
	}

	if cur := c.readPosition(entity); cur != nil && *cur == position {
		c.log.Debug("cover already at requested position", "entity", entity, "position", position)
		return nil
	}
	_, err := c.send(ctx, entity, position)
	return err
}

// ForceRefresh re-dispatches the computed state to every non-manual cover,
// bypassing the delta and interval gates.
func (c *Controller) ForceRefresh(ctx context.Context) {
	if !c.ControlEnabled() {
		return
	}
	now := c.now()
	model := c.buildModel(now)
	state, _ := c.computeState(model)

	for _, entity := range c.opts.Covers {
		if c.override.IsManual(entity) {
			continue
		}
		if _, err := c.send(ctx, entity, state); err != nil {
			c.log.Error("forced refresh failed", "entity", entity, "err", err)
		}
	}
}

// ResetOverride clears the manual override for one cover, or all when
// entity is empty.
func (c *Controller) ResetOverride(entity string) {
	if entity == "" {
		c.override.ResetAll()
		return
	}
	c.override.Reset(entity)
}

// Toggles.

func (c *Controller) SetControlEnabled(v bool) {
	c.mu.Lock()
	c.controlEnabled = v
	c.mu.Unlock()
	c.log.Info("automatic control toggled", "enabled", v)
}

func (c *Controller) ControlEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controlEnabled
}

func (c *Controller) SetClimateMode(v bool) {
	c.mu.Lock()
	c.climateMode = v
	c.mu.Unlock()
	c.log.Info("climate mode toggled", "enabled", v)
}

func (c *Controller) climateModeOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.climateMode
}

// SetManualDetection toggles override detection; disabling it also clears
// every active override.
func (c *Controller) SetManualDetection(v bool) {
	c.mu.Lock()
	c.manualDetect = v
	c.mu.Unlock()
	if !v {
		c.override.ResetAll()
	}
}

func (c *Controller) manualDetectOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manualDetect
}

func (c *Controller) SetReturnToDefault(v bool) {
	c.mu.Lock()
	c.returnToDefault = v
	c.mu.Unlock()
}

func (c *Controller) SetUseLux(v bool) {
	c.mu.Lock()
	c.useLux = v
	c.mu.Unlock()
}

func (c *Controller) useLuxOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useLux
}

func (c *Controller) SetUseIrradiance(v bool) {
	c.mu.Lock()
	c.useIrradiance = v
	c.mu.Unlock()
}

func (c *Controller) useIrradianceOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useIrradiance
}

func (c *Controller) SetPreferOutsideTemp(v bool) {
	c.mu.Lock()
	c.preferOutside = v
	c.mu.Unlock()
}

func (c *Controller) preferOutsideOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preferOutside
}

func (c *Controller) returnToDefaultOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.returnToDefault
}

// Close stops the grace timers.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for entity, t := range c.graceTimers {
		t.Stop()
		delete(c.graceTimers, entity)
	}
}
