package automod

import (
	"context"
	"fmt"
	"slices"
	"time"

	"sentinel-automod/internal/clock"
	"sentinel-automod/internal/gateway"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/policy"
	"sentinel-automod/internal/storage"

	"go.uber.org/zap"
)

// TimeoutTracker is told about every timeout the enforcer applies.
type TimeoutTracker interface {
	TrackTimeout(ctx context.Context, guildID, userID string, expiry time.Time) error
}

type EnforcerConfig struct {
	DefaultTimeout time.Duration
	NoticeDelay    time.Duration
}

// Outcome reports which enforcement steps took effect.
type Outcome struct {
	Skipped       bool
	Deleted       bool
	CaseNumber    int
	DirectWarning bool
	ChannelNotice bool
	Warnings      int
	Escalated     bool
	TimedOut      bool
}

// Enforcer acts on a single violation. Each step runs on its own: a failed
// gateway call is logged and counted, and the remaining steps still run.
type Enforcer struct {
	gateway  gateway.Gateway
	audit    *audit.Logger
	timeouts TimeoutTracker
	clock    clock.Clock
	logger   *zap.Logger
	cfg      EnforcerConfig
}

func NewEnforcer(gw gateway.Gateway, auditLogger *audit.Logger, timeouts TimeoutTracker, clk clock.Clock, logger *zap.Logger, cfg EnforcerConfig) *Enforcer {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Minute
	}
	if cfg.NoticeDelay <= 0 {
		cfg.NoticeDelay = 5 * time.Second
	}
	return &Enforcer{gateway: gw, audit: auditLogger, timeouts: timeouts, clock: clk, logger: logger, cfg: cfg}
}

func (e *Enforcer) Enforce(ctx context.Context, msg MessageEvent, v Violation, pol policy.Policy) Outcome {
	var out Outcome
	if hasAnyRole(msg.MemberRoles, pol.ExemptRoles) || hasAnyRole(msg.MemberRoles, v.Settings.ExemptRoles) {
		out.Skipped = true
		return out
	}

	log := e.logger.With(
		zap.String("guild_id", msg.GuildID),
		zap.String("user_id", msg.UserID),
		zap.String("channel_id", msg.ChannelID),
		zap.String("violation", string(v.Type)),
	)
	action := v.Settings.Action

	if action.Removes() {
		if err := e.gateway.DeleteMessage(ctx, gateway.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.MessageID}); err != nil {
			e.stepFailed(log, "delete", err)
		} else {
			out.Deleted = true
		}
	}

	record := storage.Case{
		GuildID:     msg.GuildID,
		UserID:      msg.UserID,
		UserTag:     msg.UserTag,
		ModeratorID: storage.ModeratorSystem,
		ActionType:  string(action),
		Reason:      caseReason(v),
	}
	if action == policy.ActionTimeout {
		seconds := int(e.cfg.DefaultTimeout / time.Second)
		record.DurationSeconds = &seconds
	}
	if number, err := e.audit.Case(ctx, record); err != nil {
		e.stepFailed(log, "audit", err)
	} else {
		out.CaseNumber = number
	}

	if v.Settings.SendWarning {
		e.warnUser(ctx, log, msg, v, &out)
	}

	if v.Settings.AutoWarn {
		e.autoWarn(ctx, log, msg, v, pol.EscalatingPunishment, &out)
	}

	if action == policy.ActionTimeout {
		if e.applyTimeout(ctx, log, msg.GuildID, msg.UserID, e.cfg.DefaultTimeout, caseReason(v)) {
			out.TimedOut = true
		}
	}
	return out
}

func (e *Enforcer) warnUser(ctx context.Context, log *zap.Logger, msg MessageEvent, v Violation, out *Outcome) {
	err := e.gateway.SendDirectMessage(ctx, msg.UserID, warningMessage(v))
	if err == nil {
		out.DirectWarning = true
		return
	}
	log.Debug("direct warning failed, falling back to channel notice", zap.Error(err))

	ref, err := e.gateway.SendChannelMessage(ctx, msg.ChannelID, channelNotice(msg.UserID, v))
	if err != nil {
		e.stepFailed(log, "notice", err)
		return
	}
	out.ChannelNotice = true
	e.clock.AfterFunc(e.cfg.NoticeDelay, func() {
		if err := e.gateway.DeleteMessage(context.Background(), ref); err != nil {
			e.stepFailed(log, "notice_cleanup", err)
		}
	})
}

func (e *Enforcer) autoWarn(ctx context.Context, log *zap.Logger, msg MessageEvent, v Violation, esc policy.EscalatingPunishment, out *Outcome) {
	count, err := e.audit.Warn(ctx, storage.Warning{
		GuildID:     msg.GuildID,
		UserID:      msg.UserID,
		ModeratorID: storage.ModeratorSystem,
		Reason:      caseReason(v),
		CaseNumber:  out.CaseNumber,
	})
	if err != nil {
		e.stepFailed(log, "warn", err)
		return
	}
	out.Warnings = count

	if !esc.Enabled || esc.AutoAction == policy.ActionNone || count < esc.WarnToTimeoutThreshold {
		return
	}
	won, err := e.audit.ClaimEscalation(ctx, msg.GuildID, msg.UserID, esc.WarnToTimeoutThreshold)
	if err != nil {
		e.stepFailed(log, "escalation", err)
		return
	}
	if !won {
		return
	}

	reason := fmt.Sprintf("[automod] reached %d warnings", count)
	record := storage.Case{
		GuildID:     msg.GuildID,
		UserID:      msg.UserID,
		UserTag:     msg.UserTag,
		ModeratorID: storage.ModeratorSystem,
		ActionType:  string(esc.AutoAction),
		Reason:      reason,
	}
	switch esc.AutoAction {
	case policy.ActionTimeout:
		duration := time.Duration(esc.TimeoutDuration) * time.Second
		seconds := esc.TimeoutDuration
		record.DurationSeconds = &seconds
		e.applyTimeout(ctx, log, msg.GuildID, msg.UserID, duration, reason)
	case policy.ActionKick:
		if err := e.gateway.KickMember(ctx, msg.GuildID, msg.UserID, reason); err != nil {
			e.stepFailed(log, "escalation_kick", err)
		}
	}
	out.Escalated = true
	escalations.WithLabelValues(string(esc.AutoAction)).Inc()

	if _, err := e.audit.Case(ctx, record); err != nil {
		e.stepFailed(log, "escalation_audit", err)
	}
}

func (e *Enforcer) applyTimeout(ctx context.Context, log *zap.Logger, guildID, userID string, duration time.Duration, reason string) bool {
	if err := e.gateway.TimeoutMember(ctx, guildID, userID, duration, reason); err != nil {
		e.stepFailed(log, "timeout", err)
		return false
	}
	if e.timeouts == nil {
		return true
	}
	if err := e.timeouts.TrackTimeout(ctx, guildID, userID, e.clock.Now().Add(duration)); err != nil {
		e.stepFailed(log, "timeout_track", err)
	}
	return true
}

func (e *Enforcer) stepFailed(log *zap.Logger, step string, err error) {
	enforcementFailures.WithLabelValues(step).Inc()
	log.Warn("enforcement step failed", zap.String("step", step), zap.Error(err))
}

func hasAnyRole(roles, exempt []string) bool {
	for _, role := range roles {
		if slices.Contains(exempt, role) {
			return true
		}
	}
	return false
}
