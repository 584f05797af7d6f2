// Package antiraid tracks join pressure per guild and classifies it.
package antiraid

import (
	"context"
	"time"

	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/tracking"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Detection struct {
	IsRaid    bool
	JoinCount int
	Severity  Severity
	// RecentJoins lists users who joined inside the window, oldest first.
	RecentJoins []string
}

type Detector struct {
	window tracking.Window
	clock  Clock
}

func New(window tracking.Window, clock Clock) *Detector {
	if clock == nil {
		clock = systemClock{}
	}
	return &Detector{window: window, clock: clock}
}

func Key(guildID string) string {
	return "joins:" + guildID
}

func windowOf(cfg policy.Raid) time.Duration {
	return time.Duration(cfg.TimeWindowSeconds) * time.Second
}

// TrackJoin records the join and returns the count inside the window. A user
// re-joining within the window is counted once.
func (d *Detector) TrackJoin(ctx context.Context, guildID, userID string, cfg policy.Raid) (int, error) {
	return d.window.Add(ctx, Key(guildID), userID, d.clock.Now(), windowOf(cfg))
}

func (d *Detector) DetectRaid(ctx context.Context, guildID string, cfg policy.Raid) (Detection, error) {
	members, err := d.window.Members(ctx, Key(guildID), d.clock.Now(), windowOf(cfg))
	if err != nil {
		return Detection{}, err
	}
	count := len(members)
	return Detection{
		IsRaid:      count >= cfg.JoinThreshold,
		JoinCount:   count,
		Severity:    Classify(count, cfg.Severity),
		RecentJoins: members,
	}, nil
}
