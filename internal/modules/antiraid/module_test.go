package antiraid

import (
	"context"
	"fmt"
	"testing"
	"time"

	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestClassifyBoundaries(t *testing.T) {
	thresholds := policy.Default().Raid.Severity
	tests := []struct {
		count int
		want  Severity
	}{
		{0, SeverityNone},
		{4, SeverityNone},
		{5, SeverityLow},
		{9, SeverityLow},
		{10, SeverityMedium},
		{19, SeverityMedium},
		{20, SeverityHigh},
		{29, SeverityHigh},
		{30, SeverityCritical},
		{500, SeverityCritical},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Classify(tc.count, thresholds), "count %d", tc.count)
	}
}

func TestActionsAreCumulative(t *testing.T) {
	assert.Nil(t, ActionsFor(SeverityNone))
	assert.Equal(t, []Action{ActionAlert}, ActionsFor(SeverityLow))
	assert.Equal(t, []Action{ActionAlert, ActionLockdown}, ActionsFor(SeverityMedium))
	assert.Equal(t, []Action{ActionAlert, ActionLockdown, ActionQuarantine}, ActionsFor(SeverityHigh))
	assert.Equal(t, []Action{ActionAlert, ActionLockdown, ActionQuarantine, ActionKick}, ActionsFor(SeverityCritical))
}

func TestDetectRaid(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	detector := New(tracking.NewMemoryWindow(0), clock)
	cfg := policy.Default().Raid
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_, err := detector.TrackJoin(ctx, "g1", fmt.Sprintf("u%d", i), cfg)
		require.NoError(t, err)
	}
	detection, err := detector.DetectRaid(ctx, "g1", cfg)
	require.NoError(t, err)
	assert.False(t, detection.IsRaid)
	assert.Equal(t, SeverityLow, detection.Severity)

	_, _ = detector.TrackJoin(ctx, "g1", "u0", cfg)
	detection, _ = detector.DetectRaid(ctx, "g1", cfg)
	assert.Equal(t, 9, detection.JoinCount, "rejoin inside the window counts once")

	_, _ = detector.TrackJoin(ctx, "g1", "u9", cfg)
	detection, _ = detector.DetectRaid(ctx, "g1", cfg)
	assert.True(t, detection.IsRaid)
	assert.Equal(t, SeverityMedium, detection.Severity)
	assert.Len(t, detection.RecentJoins, 10)

	clock.now = clock.now.Add(11 * time.Second)
	detection, _ = detector.DetectRaid(ctx, "g1", cfg)
	assert.Equal(t, 0, detection.JoinCount)

	other, _ := detector.DetectRaid(ctx, "g2", cfg)
	assert.Equal(t, SeverityNone, other.Severity)
}
