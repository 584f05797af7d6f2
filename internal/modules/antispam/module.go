// Package antispam tracks per-user message rates.
package antispam

import (
	"context"
	"time"

	"sentinel-automod/internal/tracking"
)

type Result struct {
	IsSpam bool
	Count  int
}

// Clock supplies the tracker's notion of now.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RateTracker answers whether a user exceeded threshold messages within a
// window. Counting runs under the window's own lock, so overlapping calls for
// the same user each see every earlier append.
type RateTracker struct {
	window tracking.Window
	clock  Clock
}

func New(window tracking.Window, clock Clock) *RateTracker {
	if clock == nil {
		clock = systemClock{}
	}
	return &RateTracker{window: window, clock: clock}
}

func Key(guildID, userID string) string {
	return "spam:" + guildID + ":" + userID
}

// CheckSpam records messageID for the user and reports isSpam once the
// count exceeds threshold. A redelivered messageID is counted once.
func (t *RateTracker) CheckSpam(ctx context.Context, guildID, userID, messageID string, threshold int, window time.Duration) (Result, error) {
	count, err := t.window.Add(ctx, Key(guildID, userID), messageID, t.clock.Now(), window)
	if err != nil {
		return Result{}, err
	}
	return Result{IsSpam: count > threshold, Count: count}, nil
}
