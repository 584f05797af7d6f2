package audit

import (
	"context"
	"time"

	"sentinel-automod/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var casesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Name:      "audit_cases_total",
	Help:      "Moderation cases written, by action type.",
}, []string{"action"})

// Logger writes moderation cases, warnings and notes. Every case is also
// logged through zap and handed to the notifier, if one is set.
type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.Case)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.Case)) {
	l.notify = notify
}

// Case persists c, assigning the next case number for the guild.
func (l *Logger) Case(ctx context.Context, c storage.Case) (int, error) {
	if c.ModeratorID == "" {
		c.ModeratorID = storage.ModeratorSystem
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	number, err := l.store.CreateCase(ctx, c)
	if err != nil {
		l.logger.Error("audit case write failed", zap.String("guild_id", c.GuildID), zap.String("user_id", c.UserID), zap.String("action", c.ActionType), zap.Error(err))
		return 0, err
	}
	c.CaseNumber = number
	casesCreated.WithLabelValues(c.ActionType).Inc()

	fields := []zap.Field{
		zap.String("guild_id", c.GuildID),
		zap.Int("case", number),
		zap.String("user_id", c.UserID),
		zap.String("moderator_id", c.ModeratorID),
		zap.String("action", c.ActionType),
		zap.String("reason", c.Reason),
	}
	if c.DurationSeconds != nil {
		fields = append(fields, zap.Int("duration_seconds", *c.DurationSeconds))
	}
	l.logger.Info("audit", fields...)

	if l.notify != nil {
		l.notify(ctx, c)
	}
	return number, nil
}

// Warn records a warning and returns the user's active warning count.
func (l *Logger) Warn(ctx context.Context, w storage.Warning) (int, error) {
	if w.ModeratorID == "" {
		w.ModeratorID = storage.ModeratorSystem
	}
	if err := l.store.InsertWarning(ctx, w); err != nil {
		return 0, err
	}
	count, err := l.store.ActiveWarningCount(ctx, w.GuildID, w.UserID)
	if err != nil {
		return 0, err
	}
	l.logger.Info("warning recorded", zap.String("guild_id", w.GuildID), zap.String("user_id", w.UserID), zap.Int("active", count))
	return count, nil
}

// ClaimEscalation resets the user's warnings if at least threshold are
// active. Only one concurrent caller observes true.
func (l *Logger) ClaimEscalation(ctx context.Context, guildID, userID string, threshold int) (bool, error) {
	return l.store.ClearWarningsAtLeast(ctx, guildID, userID, threshold)
}

func (l *Logger) Note(ctx context.Context, n storage.Note) error {
	if n.ModeratorID == "" {
		n.ModeratorID = storage.ModeratorSystem
	}
	if err := l.store.InsertNote(ctx, n); err != nil {
		return err
	}
	l.logger.Debug("note recorded", zap.String("guild_id", n.GuildID), zap.String("user_id", n.UserID))
	return nil
}
