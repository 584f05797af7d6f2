package automod

import (
	"context"
	"fmt"
	"time"

	"sentinel-automod/internal/clock"
	"sentinel-automod/internal/modules/antispam"
	"sentinel-automod/internal/policy"

	"go.uber.org/zap"
)

// PolicySource resolves the effective policy for a guild.
type PolicySource interface {
	Get(ctx context.Context, guildID string) *policy.Compiled
}

// Decision is the result of handling one message.
type Decision struct {
	Violations []Violation
	Enforced   *Violation
	Outcome    Outcome
}

type Module struct {
	policies PolicySource
	spam     *antispam.RateTracker
	pipeline *Pipeline
	enforcer *Enforcer
	clock    clock.Clock
	logger   *zap.Logger
}

func New(policies PolicySource, spam *antispam.RateTracker, pipeline *Pipeline, enforcer *Enforcer, clk clock.Clock, logger *zap.Logger) *Module {
	if clk == nil {
		clk = clock.Real()
	}
	return &Module{policies: policies, spam: spam, pipeline: pipeline, enforcer: enforcer, clock: clk, logger: logger}
}

// HandleMessage checks the spam rate first; only messages under the rate
// limit reach the content filters. At most one violation is enforced.
func (m *Module) HandleMessage(ctx context.Context, msg MessageEvent) Decision {
	var decision Decision
	if msg.AuthorIsPrivileged || msg.GuildID == "" {
		return decision
	}
	compiled := m.policies.Get(ctx, msg.GuildID)
	pol := compiled.Policy
	if !pol.Enabled {
		return decision
	}

	if pol.Spam.Applies(msg.ChannelID) {
		window := time.Duration(pol.Spam.TimeWindowSeconds) * time.Second
		result, err := m.spam.CheckSpam(ctx, msg.GuildID, msg.UserID, msg.MessageID, pol.Spam.MessageThreshold, window)
		if err != nil {
			m.logger.Warn("spam check failed", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.UserID), zap.Error(err))
		} else if result.IsSpam {
			v := Violation{
				Type:     TypeSpam,
				Details:  fmt.Sprintf("%d messages in %ds", result.Count, pol.Spam.TimeWindowSeconds),
				Evidence: result.Count,
				Settings: pol.Spam.FilterSettings,
			}
			decision.Violations = []Violation{v}
			return m.enforce(ctx, msg, pol, decision)
		}
	}

	decision.Violations = m.pipeline.Check(compiled, msg, m.clock.Now())
	if len(decision.Violations) == 0 {
		return decision
	}
	return m.enforce(ctx, msg, pol, decision)
}

func (m *Module) enforce(ctx context.Context, msg MessageEvent, pol policy.Policy, decision Decision) Decision {
	for _, v := range decision.Violations {
		violationsDetected.WithLabelValues(string(v.Type)).Inc()
	}
	first := decision.Violations[0]
	decision.Enforced = &first
	decision.Outcome = m.enforcer.Enforce(ctx, msg, first, pol)
	m.logger.Info("violation enforced",
		zap.String("guild_id", msg.GuildID),
		zap.String("user_id", msg.UserID),
		zap.String("violation", string(first.Type)),
		zap.Int("detected", len(decision.Violations)),
		zap.Int("case", decision.Outcome.CaseNumber),
	)
	return decision
}

// Sweep drops idle duplicate-detection history.
func (m *Module) Sweep(now time.Time, grace time.Duration) int {
	return m.pipeline.History().Sweep(now, grace)
}
