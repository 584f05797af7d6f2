package playbook

import (
	"context"
	"testing"
	"time"

	"sentinel-automod/internal/clock"
	"sentinel-automod/internal/gateway"
	"sentinel-automod/internal/lockdown"
	"sentinel-automod/internal/modules/antiraid"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/storage"

	"go.uber.org/zap"
)

type noopTracker struct{ count int }

func (n *noopTracker) TrackTimeout(ctx context.Context, guildID, userID string, expiry time.Time) error {
	n.count++
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *gateway.Fake, *clock.Fake, *lockdown.Manager, *storage.Store) {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := zap.NewNop()
	gw := gateway.NewFake()
	gw.Channels["g1"] = []gateway.Channel{{ID: "c1", Name: "general"}, {ID: "c2", Name: "welcome"}}
	manager := lockdown.New(gw, store, logger)

	engine := New(gw, manager, audit.NewLogger(store, logger), &noopTracker{}, logger)
	clk := clock.NewFake(time.Unix(0, 0))
	engine.WithClock(clk)
	return engine, gw, clk, manager, store
}

func TestMediumRaidLocksAndAutoUnlocks(t *testing.T) {
	engine, gw, clk, manager, _ := newTestEngine(t)
	ctx := context.Background()
	cfg := policy.Default().Raid
	cfg.AlertChannelID = "alerts"

	resp := engine.Respond(ctx, "g1", antiraid.Detection{IsRaid: true, JoinCount: 10, Severity: antiraid.SeverityMedium}, cfg)
	if len(resp.Actions) != 2 || resp.Lockdown == nil || len(resp.Lockdown.Success) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(gw.ChannelSends) != 1 || gw.ChannelSends[0].Ref.ChannelID != "alerts" {
		t.Fatalf("expected one alert, got %+v", gw.ChannelSends)
	}
	if !engine.Status("g1").Lockdown {
		t.Fatalf("expected lockdown state")
	}

	again := engine.Respond(ctx, "g1", antiraid.Detection{IsRaid: true, JoinCount: 12, Severity: antiraid.SeverityMedium}, cfg)
	if len(again.Actions) != 0 {
		t.Fatalf("tier must run once per episode, got %+v", again)
	}

	clk.Advance(14 * time.Minute)
	if locked, _ := manager.IsLocked(ctx, "g1"); !locked {
		t.Fatalf("expected guild still locked")
	}
	clk.Advance(time.Minute)
	if locked, _ := manager.IsLocked(ctx, "g1"); locked {
		t.Fatalf("expected automatic unlock")
	}
	if engine.Status("g1").Lockdown {
		t.Fatalf("expected episode cleared")
	}
	if _, ok := gw.Overwrite("c1"); ok {
		t.Fatalf("expected inherited permissions restored")
	}
}

func TestCriticalRaidHandlesEachJoinerOnce(t *testing.T) {
	engine, gw, _, _, store := newTestEngine(t)
	ctx := context.Background()
	cfg := policy.Default().Raid
	cfg.AutoLockdown = false

	resp := engine.Respond(ctx, "g1", antiraid.Detection{IsRaid: true, JoinCount: 30, Severity: antiraid.SeverityCritical, RecentJoins: []string{"u1", "u2"}}, cfg)
	if len(resp.Quarantined) != 2 || len(resp.Kicked) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Lockdown != nil {
		t.Fatalf("autoLockdown off must not lock")
	}

	resp = engine.Respond(ctx, "g1", antiraid.Detection{IsRaid: true, JoinCount: 31, Severity: antiraid.SeverityCritical, RecentJoins: []string{"u1", "u2", "u3"}}, cfg)
	if len(resp.Kicked) != 1 || resp.Kicked[0] != "u3" {
		t.Fatalf("expected only the new joiner kicked, got %+v", resp.Kicked)
	}
	if len(gw.Kicks) != 3 || len(gw.Timeouts) != 3 {
		t.Fatalf("unexpected gateway calls: kicks=%v timeouts=%d", gw.Kicks, len(gw.Timeouts))
	}
	cases, _ := store.ListCases(ctx, "g1")
	if len(cases) != 6 {
		t.Fatalf("expected 6 cases, got %d", len(cases))
	}
}

func TestReleaseStopsPendingUnlock(t *testing.T) {
	engine, _, clk, manager, _ := newTestEngine(t)
	ctx := context.Background()
	cfg := policy.Default().Raid

	engine.Respond(ctx, "g1", antiraid.Detection{IsRaid: true, JoinCount: 10, Severity: antiraid.SeverityMedium}, cfg)
	if clk.Pending() != 1 {
		t.Fatalf("expected unlock timer")
	}
	result, err := engine.Release(ctx, "g1", "moderator unlock")
	if err != nil || len(result.Success) != 2 {
		t.Fatalf("unexpected release: %+v err=%v", result, err)
	}
	if clk.Pending() != 0 {
		t.Fatalf("expected unlock timer stopped")
	}
	if locked, _ := manager.IsLocked(ctx, "g1"); locked {
		t.Fatalf("expected unlocked")
	}
}

func TestLowSeverityOnlyAlerts(t *testing.T) {
	engine, gw, _, manager, _ := newTestEngine(t)
	ctx := context.Background()
	resp := engine.Respond(ctx, "g1", antiraid.Detection{JoinCount: 5, Severity: antiraid.SeverityLow}, policy.Default().Raid)
	if len(resp.Actions) != 1 || resp.Actions[0] != antiraid.ActionAlert {
		t.Fatalf("unexpected actions: %+v", resp.Actions)
	}
	if locked, _ := manager.IsLocked(ctx, "g1"); locked || len(gw.Edits) != 0 {
		t.Fatalf("low severity must not lock")
	}
}

func TestRaidExpiryKeepsManualLockdown(t *testing.T) {
	engine, gw, clk, manager, store := newTestEngine(t)
	ctx := context.Background()
	cfg := policy.Default().Raid

	if _, err := manager.Enable(ctx, "g1", lockdown.Options{Channels: []string{"c2"}, Reason: "moderator"}); err != nil {
		t.Fatalf("manual lockdown: %v", err)
	}
	resp := engine.Respond(ctx, "g1", antiraid.Detection{IsRaid: true, JoinCount: 10, Severity: antiraid.SeverityMedium}, cfg)
	if resp.Lockdown == nil || len(resp.Lockdown.Acquired) != 1 || resp.Lockdown.Acquired[0] != "c1" {
		t.Fatalf("expected raid to acquire only c1, got %+v", resp.Lockdown)
	}

	clk.Advance(16 * time.Minute)
	if _, ok := gw.Overwrite("c1"); ok {
		t.Fatalf("expected raid-locked c1 restored")
	}
	if _, held, _ := store.GetSnapshot(ctx, "g1", "c2"); !held {
		t.Fatalf("manual lockdown of c2 must survive raid expiry")
	}
	if ow, _ := gw.Overwrite("c2"); ow.Deny&gateway.LockdownDeny != gateway.LockdownDeny {
		t.Fatalf("expected c2 still denied, got %+v", ow)
	}
}

func TestRaidUnlockTimeIsFixedOnceLocked(t *testing.T) {
	engine, _, clk, manager, _ := newTestEngine(t)
	ctx := context.Background()
	cfg := policy.Default().Raid
	start := clk.Now()

	engine.Respond(ctx, "g1", antiraid.Detection{IsRaid: true, JoinCount: 10, Severity: antiraid.SeverityMedium}, cfg)
	clk.Advance(10 * time.Minute)
	engine.Respond(ctx, "g1", antiraid.Detection{IsRaid: true, JoinCount: 12, Severity: antiraid.SeverityMedium}, cfg)

	if expires := engine.Status("g1").ExpiresAt; !expires.Equal(start.Add(15 * time.Minute)) {
		t.Fatalf("expected unlock at +15m, got %s", expires.Sub(start))
	}
	clk.Advance(5 * time.Minute)
	if locked, _ := manager.IsLocked(ctx, "g1"); locked {
		t.Fatalf("expected unlock at the reported time")
	}
}
