package engine

import (
	"context"
	"time"
)

// Verify re-checks every cover against the last commanded target and
// re-sends the command when the cover drifted, up to MaxRetries attempts
// per stuck target. Run on the VerifyInterval cadence.
func (c *Controller) Verify(ctx context.Context) {
	now := c.now()
	if !c.ControlEnabled() || !c.windowActive(now) {
		return
	}

	for _, entity := range c.opts.Covers {
		c.verifyEntity(ctx, entity, now)
	}
}

func (c *Controller) verifyEntity(ctx context.Context, entity string, now time.Time) {
	c.mu.Lock()
	c.lastVerify[entity] = now
	waiting := c.waiting[entity]
	target, hasTarget := c.target[entity]
	never := c.neverCommanded[entity]
	retries := c.retries[entity]
	c.mu.Unlock()

	if c.override.IsManual(entity) {
		c.resetRetries(entity)
		return
	}
	if waiting {
		return
	}
	if !hasTarget {
		// Log only on first encounter to avoid spam.
		if !never {
			c.mu.Lock()
			c.neverCommanded[entity] = true
			c.mu.Unlock()
			c.log.Debug("no command sent yet, verification starts after first command", "entity", entity)
		}
		return
	}

	actual := c.readPosition(entity)
	if actual == nil {
		c.log.Debug("cannot verify position, reading unavailable", "entity", entity)
		return
	}

	delta := target - *actual
	if delta < 0 {
		delta = -delta
	}
	if delta <= PositionTolerance {
		c.resetRetries(entity)
		return
	}

	// A mismatch the delta gate would never act on is not worth retrying.
	if !c.positionDelta(entity, target) {
		c.resetRetries(entity)
		return
	}

	if retries >= MaxRetries {
		c.log.Warn("max reposition retries exceeded",
			"entity", entity, "target", target, "actual", *actual, "delta", delta)
		return
	}

	c.mu.Lock()
	c.retries[entity] = retries + 1
	c.mu.Unlock()

	c.log.Info("position mismatch, repositioning",
		"entity", entity, "attempt", retries+1, "max", MaxRetries,
		"target", target, "actual", *actual, "delta", delta)

	// Resend the last commanded target; if the sun has moved since, the
	// regular tick handles the new position separately.
	if _, err := c.send(ctx, entity, target); err != nil {
		c.log.Error("reposition failed", "entity", entity, "err", err)
	}
}

func (c *Controller) resetRetries(entity string) {
	c.mu.Lock()
	delete(c.retries, entity)
	c.mu.Unlock()
}
