// Package antitamper implements the agent's one piece of algorithmic
// subtlety: bounding offline grace by monotonic time so that advancing the
// wall clock can never extend it, and treating any backward wall-clock jump
// as an attack.
//
// Go's time.Time carries both a wall clock and a monotonic reading when
// obtained from time.Now(); the monotonic component is only safely
// observable through t2.Sub(t1) between two such values (see the time
// package's documentation on monotonic clocks). This type therefore never
// calls UnixNano on a stored time.Time to measure elapsed time — that would
// silently strip the monotonic reading and reduce this to wall-clock math.
package antitamper

import (
	"log/slog"
	"time"
)

// Checker tracks the online/offline transition and answers whether a
// degraded session is still within its grace period.
type Checker struct {
	graceDuration time.Duration
	logger        *slog.Logger

	lastVerifyWallMs int64
	lastVerifyAt     time.Time // wall+monotonic snapshot from time.Now()
	offlineSince     time.Time // zero value = not offline
	isOffline        bool

	nowFunc func() time.Time
}

// New builds a Checker with a grace window of gracePeriodHours.
func New(gracePeriodHours int, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		graceDuration: time.Duration(gracePeriodHours) * time.Hour,
		logger:        logger.With(slog.String("component", "antitamper")),
		nowFunc:       time.Now,
	}
}

// WithNowFunc overrides the clock; test-only.
func (c *Checker) WithNowFunc(f func() time.Time) *Checker {
	c.nowFunc = f
	return c
}

// RecordOnlineVerify snapshots the current wall/monotonic time and clears
// any offline marker — called whenever the agent successfully talks to the
// authority.
func (c *Checker) RecordOnlineVerify() {
	now := c.nowFunc()
	c.lastVerifyWallMs = now.UnixMilli()
	c.lastVerifyAt = now
	c.isOffline = false
	c.offlineSince = time.Time{}
}

// AdoptLastVerifyWall seeds lastVerifyWall from a cached value (used by
// tryDegradeFromCache, which restores state from the sealed cache rather
// than a live verification).
func (c *Checker) AdoptLastVerifyWall(wallMs int64) {
	c.lastVerifyWallMs = wallMs
	c.lastVerifyAt = c.nowFunc()
}

// MarkOffline records the offline start time, once. Idempotent: a second
// call while already offline does nothing, so intermittent failures don't
// keep resetting the grace window.
func (c *Checker) MarkOffline() {
	if c.isOffline {
		return
	}
	c.isOffline = true
	c.offlineSince = c.nowFunc()
}

// IsDegradationValid implements §4.5's isDegradationValid algorithm.
func (c *Checker) IsDegradationValid() bool {
	now := c.nowFunc()

	if now.UnixMilli() < c.lastVerifyWallMs {
		c.logger.Warn("wall clock moved backward since last verification; rejecting degraded session")
		return false
	}

	if !c.isOffline {
		return true
	}

	offlineElapsed := now.Sub(c.offlineSince)
	if offlineElapsed > c.graceDuration {
		return false
	}

	// Sanity check compares wall-clock elapsed against monotonic elapsed
	// since the *last verification*, not since going offline, matching the
	// original algorithm's systemElapsedMs/nanoElapsedMs comparison.
	wallElapsedSinceVerify := time.Duration(now.UnixMilli()-c.lastVerifyWallMs) * time.Millisecond
	monoElapsedSinceVerify := now.Sub(c.lastVerifyAt)
	if wallElapsedSinceVerify-monoElapsedSinceVerify > 5*time.Minute {
		c.logger.Warn("wall clock advanced faster than monotonic clock by more than 5 minutes; tolerating as a clock sync jump",
			slog.Duration("wall_elapsed", wallElapsedSinceVerify), slog.Duration("mono_elapsed", monoElapsedSinceVerify))
	}

	return true
}

// RemainingGraceHours implements §4.5's remainingGraceHours.
func (c *Checker) RemainingGraceHours() float64 {
	if !c.isOffline {
		return c.graceDuration.Hours()
	}
	elapsed := c.nowFunc().Sub(c.offlineSince)
	remaining := c.graceDuration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining.Hours()
}

// LastVerifyWallMs exposes the last recorded wall-clock verification time,
// used when sealing the offline cache.
func (c *Checker) LastVerifyWallMs() int64 {
	return c.lastVerifyWallMs
}

// IsOffline reports whether MarkOffline has been called since the last
// RecordOnlineVerify.
func (c *Checker) IsOffline() bool {
	return c.isOffline
}
