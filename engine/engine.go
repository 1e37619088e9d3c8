package engine

import (
	"context"
	"log/slog"
	"time"

	"sunblind/history"
	"sunblind/statebus"
)

// Bus is the slice of the state bus the engine needs: reads plus change
// notifications.
type Bus interface {
	StateSource
	OnChange(fn statebus.ChangeFunc)
}

// Config holds engine-level settings.
type Config struct {
	// TickInterval is the baseline evaluation cadence. State changes on
	// the bus additionally trigger immediate evaluations.
	TickInterval time.Duration `json:"tick_interval"`
}

func DefaultConfig() Config {
	return Config{TickInterval: time.Minute}
}

// Engine runs all controllers against one state bus.
type Engine struct {
	cfg         Config
	bus         Bus
	controllers []*Controller
	log         *slog.Logger
}

func New(cfg Config, bus Bus, controllers []*Controller, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	return &Engine{cfg: cfg, bus: bus, controllers: controllers, log: log}
}

func (e *Engine) Controllers() []*Controller { return e.controllers }

// ByName returns the named controller, nil when unknown.
func (e *Engine) ByName(name string) *Controller {
	for _, c := range e.controllers {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// managesCover reports whether the controller drives the given entity.
func (c *Controller) managesCover(entityID string) bool {
	for _, e := range c.opts.Covers {
		if e == entityID {
			return true
		}
	}
	return false
}

// Run evaluates all controllers until the context is canceled. Cover
// position reports route to their controller; any other state change
// coalesces into an immediate evaluation.
func (e *Engine) Run(ctx context.Context) error {
	kick := make(chan struct{}, 1)

	e.bus.OnChange(func(st statebus.State) {
		for _, c := range e.controllers {
			if c.managesCover(st.EntityID) {
				c.OnCoverState(st.EntityID, st)
				return
			}
		}
		select {
		case kick <- struct{}{}:
		default:
		}
	})

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	verifier := time.NewTicker(VerifyInterval)
	defer verifier.Stop()

	e.log.Info("engine started",
		"controllers", len(e.controllers), "tick_interval", e.cfg.TickInterval)
	e.tickAll(ctx)

	for {
		select {
		case <-ctx.Done():
			for _, c := range e.controllers {
				c.Close()
			}
			e.log.Info("engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tickAll(ctx)
		case <-kick:
			e.tickAll(ctx)
		case <-verifier.C:
			for _, c := range e.controllers {
				c.Verify(ctx)
			}
		}
	}
}

func (e *Engine) tickAll(ctx context.Context) {
	for _, c := range e.controllers {
		c.Tick(ctx)
	}
}

// TeeRecorder fans tick records out to the in-memory buffer and, when
// configured, the CSV log.
type TeeRecorder struct {
	Buffer *history.Buffer
	CSV    *history.CSVLog
}

func (t *TeeRecorder) Push(rec history.TickRecord) {
	if t.Buffer != nil {
		t.Buffer.Push(rec)
	}
	if t.CSV != nil {
		t.CSV.Write(rec)
	}
}
