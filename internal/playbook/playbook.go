// Package playbook carries out the raid response for a detection tier and
// lifts automatic lockdowns when they expire.
package playbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-automod/internal/clock"
	"sentinel-automod/internal/gateway"
	"sentinel-automod/internal/lockdown"
	"sentinel-automod/internal/modules/antiraid"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var raidsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "antiraid",
	Name:      "responses_total",
	Help:      "Raid responses executed, by severity tier.",
}, []string{"severity"})

// TimeoutTracker records quarantine timeouts so their expiry is announced.
type TimeoutTracker interface {
	TrackTimeout(ctx context.Context, guildID, userID string, expiry time.Time) error
}

// State is the progress of one raid episode in a guild.
type State struct {
	Severity    antiraid.Severity
	Lockdown    bool
	LockedAt    time.Time
	// ExpiresAt ends the episode. Once locked it is fixed to the scheduled
	// automatic unlock.
	ExpiresAt   time.Time
	channels    []string
	handled     map[antiraid.Action]bool
	quarantined map[string]bool
	kicked      map[string]bool
	unlock      clock.Timer
}

// Response lists what a single Respond call did.
type Response struct {
	Actions     []antiraid.Action
	Lockdown    *lockdown.Result
	Quarantined []string
	Kicked      []string
}

type Engine struct {
	mu       sync.Mutex
	clock    clock.Clock
	gateway  gateway.Gateway
	lockdown *lockdown.Manager
	audit    *audit.Logger
	timeouts TimeoutTracker
	logger   *zap.Logger
	states   map[string]*State
}

func New(gw gateway.Gateway, manager *lockdown.Manager, auditLogger *audit.Logger, timeouts TimeoutTracker, logger *zap.Logger) *Engine {
	return &Engine{
		clock:    clock.Real(),
		gateway:  gw,
		lockdown: manager,
		audit:    auditLogger,
		timeouts: timeouts,
		logger:   logger,
		states:   make(map[string]*State),
	}
}

func (e *Engine) WithClock(c clock.Clock) {
	e.clock = c
}

func lockdownDuration(cfg policy.Raid) time.Duration {
	minutes := cfg.LockdownMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return time.Duration(minutes) * time.Minute
}

// Respond runs every action of the detected tier that has not already run in
// the current episode. Quarantine and kick apply to joiners not yet handled,
// so an ongoing raid keeps catching new accounts.
func (e *Engine) Respond(ctx context.Context, guildID string, det antiraid.Detection, cfg policy.Raid) Response {
	var resp Response
	if det.Severity == antiraid.SeverityNone {
		return resp
	}

	now := e.clock.Now()
	e.mu.Lock()
	state := e.episodeLocked(guildID, now)
	if !state.Lockdown {
		state.ExpiresAt = now.Add(lockdownDuration(cfg))
	}
	if det.Severity > state.Severity {
		state.Severity = det.Severity
	}
	var pending []antiraid.Action
	for _, action := range antiraid.ActionsFor(det.Severity) {
		switch action {
		case antiraid.ActionAlert, antiraid.ActionLockdown:
			if state.handled[action] {
				continue
			}
			state.handled[action] = true
		}
		pending = append(pending, action)
	}
	e.mu.Unlock()

	if len(pending) == 0 {
		return resp
	}
	raidsHandled.WithLabelValues(det.Severity.String()).Inc()
	log := e.logger.With(zap.String("guild_id", guildID), zap.String("severity", det.Severity.String()), zap.Int("joins", det.JoinCount))

	for _, action := range pending {
		switch action {
		case antiraid.ActionAlert:
			e.alert(ctx, log, guildID, det, cfg)
			resp.Actions = append(resp.Actions, action)
		case antiraid.ActionLockdown:
			if !cfg.AutoLockdown {
				continue
			}
			result, ok := e.lock(ctx, log, guildID, cfg)
			if ok {
				resp.Lockdown = &result
				resp.Actions = append(resp.Actions, action)
			}
		case antiraid.ActionQuarantine:
			resp.Quarantined = e.quarantine(ctx, log, guildID, det.RecentJoins, lockdownDuration(cfg))
			resp.Actions = append(resp.Actions, action)
		case antiraid.ActionKick:
			resp.Kicked = e.kick(ctx, log, guildID, det.RecentJoins)
			resp.Actions = append(resp.Actions, action)
		}
	}
	return resp
}

func (e *Engine) episodeLocked(guildID string, now time.Time) *State {
	state := e.states[guildID]
	if state != nil && !state.Lockdown && !now.Before(state.ExpiresAt) {
		state = nil
	}
	if state == nil {
		state = &State{
			handled:     make(map[antiraid.Action]bool),
			quarantined: make(map[string]bool),
			kicked:      make(map[string]bool),
		}
		e.states[guildID] = state
	}
	return state
}

func (e *Engine) alert(ctx context.Context, log *zap.Logger, guildID string, det antiraid.Detection, cfg policy.Raid) {
	log.Warn("raid detected")
	if cfg.AlertChannelID == "" {
		return
	}
	text := fmt.Sprintf("Raid detected: %d joins in %ds (severity %s).", det.JoinCount, cfg.TimeWindowSeconds, det.Severity)
	if _, err := e.gateway.SendChannelMessage(ctx, cfg.AlertChannelID, text); err != nil {
		log.Warn("raid alert failed", zap.String("channel_id", cfg.AlertChannelID), zap.Error(err))
	}
}

func (e *Engine) lock(ctx context.Context, log *zap.Logger, guildID string, cfg policy.Raid) (lockdown.Result, bool) {
	result, err := e.lockdown.Enable(ctx, guildID, lockdown.Options{Exempt: cfg.ExemptChannels, Reason: "automatic raid lockdown"})
	if err != nil {
		log.Error("raid lockdown failed", zap.Error(err))
		e.mu.Lock()
		if state := e.states[guildID]; state != nil {
			delete(state.handled, antiraid.ActionLockdown)
		}
		e.mu.Unlock()
		return lockdown.Result{}, false
	}

	duration := lockdownDuration(cfg)
	e.mu.Lock()
	if state := e.states[guildID]; state != nil {
		state.Lockdown = true
		state.LockedAt = e.clock.Now()
		state.ExpiresAt = state.LockedAt.Add(duration)
		state.channels = result.Acquired
		state.unlock = e.clock.AfterFunc(duration, func() {
			e.expire(guildID, state)
		})
	}
	e.mu.Unlock()
	log.Info("raid lockdown scheduled to lift", zap.Duration("after", duration), zap.Strings("failed", result.Failed))
	return result, true
}

func (e *Engine) expire(guildID string, state *State) {
	e.mu.Lock()
	if e.states[guildID] != state {
		e.mu.Unlock()
		return
	}
	delete(e.states, guildID)
	channels := state.channels
	e.mu.Unlock()

	// Channels that were already locked before the raid stay locked.
	if len(channels) == 0 {
		e.logger.Info("raid lockdown expired with no channels to lift", zap.String("guild_id", guildID))
		return
	}
	result, err := e.lockdown.Disable(context.Background(), guildID, lockdown.Options{Channels: channels, Reason: "raid lockdown expired"})
	if err != nil {
		e.logger.Error("raid lockdown lift failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	e.logger.Info("raid lockdown lifted", zap.String("guild_id", guildID), zap.Strings("failed", result.Failed))
}

func (e *Engine) quarantine(ctx context.Context, log *zap.Logger, guildID string, users []string, duration time.Duration) []string {
	reason := "[antiraid] quarantined during raid"
	var done []string
	for _, userID := range e.claimUsers(guildID, users, func(s *State) map[string]bool { return s.quarantined }) {
		if err := e.gateway.TimeoutMember(ctx, guildID, userID, duration, reason); err != nil {
			log.Warn("raid quarantine failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if e.timeouts != nil {
			if err := e.timeouts.TrackTimeout(ctx, guildID, userID, e.clock.Now().Add(duration)); err != nil {
				log.Warn("track quarantine timeout failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
		seconds := int(duration / time.Second)
		e.record(ctx, log, storage.Case{GuildID: guildID, UserID: userID, ActionType: string(policy.ActionTimeout), Reason: reason, DurationSeconds: &seconds})
		done = append(done, userID)
	}
	return done
}

func (e *Engine) kick(ctx context.Context, log *zap.Logger, guildID string, users []string) []string {
	reason := "[antiraid] removed during critical raid"
	var done []string
	for _, userID := range e.claimUsers(guildID, users, func(s *State) map[string]bool { return s.kicked }) {
		if err := e.gateway.KickMember(ctx, guildID, userID, reason); err != nil {
			log.Warn("raid kick failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		e.record(ctx, log, storage.Case{GuildID: guildID, UserID: userID, ActionType: string(policy.ActionKick), Reason: reason})
		done = append(done, userID)
	}
	return done
}

// claimUsers marks users as handled in the selected set and returns the ones
// that were not handled before.
func (e *Engine) claimUsers(guildID string, users []string, set func(*State) map[string]bool) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.states[guildID]
	if state == nil {
		return nil
	}
	seen := set(state)
	var fresh []string
	for _, userID := range users {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		fresh = append(fresh, userID)
	}
	return fresh
}

func (e *Engine) record(ctx context.Context, log *zap.Logger, c storage.Case) {
	if e.audit == nil {
		return
	}
	if _, err := e.audit.Case(ctx, c); err != nil {
		log.Warn("raid audit failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
}

// Release ends the guild's raid episode and lifts every held lockdown now,
// including manual ones.
func (e *Engine) Release(ctx context.Context, guildID string, reason string) (lockdown.Result, error) {
	e.mu.Lock()
	if state := e.states[guildID]; state != nil {
		if state.unlock != nil {
			state.unlock.Stop()
		}
		delete(e.states, guildID)
	}
	e.mu.Unlock()
	return e.lockdown.Disable(ctx, guildID, lockdown.Options{Reason: reason})
}

// Status returns a copy of the guild's episode state.
func (e *Engine) Status(guildID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.states[guildID]
	if state == nil {
		return State{}
	}
	return State{Severity: state.Severity, Lockdown: state.Lockdown, LockedAt: state.LockedAt, ExpiresAt: state.ExpiresAt}
}
