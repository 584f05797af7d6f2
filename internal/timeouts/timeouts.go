// Package timeouts records member timeouts and announces, once, when each
// one has lapsed.
package timeouts

import (
	"context"
	"errors"
	"time"

	"sentinel-automod/internal/clock"
	"sentinel-automod/internal/gateway"
	"sentinel-automod/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var notifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "timeouts",
	Name:      "expiry_checks_total",
	Help:      "Due timeout rows processed, by outcome.",
}, []string{"outcome"})

const ExpiredMessage = "Your timeout has ended. Please keep the server rules in mind."

type Tracker struct {
	store *storage.Store
	clock clock.Clock
}

func NewTracker(store *storage.Store, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{store: store, clock: clk}
}

// TrackTimeout upserts the member's timeout, replacing any earlier expiry and
// re-arming the notification.
func (t *Tracker) TrackTimeout(ctx context.Context, guildID, userID string, expiry time.Time) error {
	return t.store.UpsertTimeout(ctx, storage.ActiveTimeout{
		GuildID:   guildID,
		UserID:    userID,
		ExpiryMs:  expiry.UnixMilli(),
		CreatedMs: t.clock.Now().UnixMilli(),
	})
}

type CheckerConfig struct {
	Retention   time.Duration
	DMPerSecond float64
}

type Stats struct {
	Due        int
	Notified   int
	Extended   int
	Departed   int
	Skipped    int
	DMFailures int
}

type Checker struct {
	store   *storage.Store
	gateway gateway.Gateway
	clock   clock.Clock
	limiter *rate.Limiter
	logger  *zap.Logger
	cfg     CheckerConfig
}

func NewChecker(store *storage.Store, gw gateway.Gateway, clk clock.Clock, logger *zap.Logger, cfg CheckerConfig) *Checker {
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	limit := rate.Inf
	if cfg.DMPerSecond > 0 {
		limit = rate.Limit(cfg.DMPerSecond)
	}
	return &Checker{
		store:   store,
		gateway: gw,
		clock:   clk,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		cfg:     cfg,
	}
}

// RunOnce processes every due, unnotified row. The member is fetched live
// and the row is claimed before the DM is attempted, so a row is announced
// at most once even if the DM fails or two checkers overlap.
func (c *Checker) RunOnce(ctx context.Context) (Stats, error) {
	now := c.clock.Now()
	due, err := c.store.DueTimeouts(ctx, now.UnixMilli())
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Due: len(due)}

	for _, row := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		log := c.logger.With(zap.String("guild_id", row.GuildID), zap.String("user_id", row.UserID))

		member, err := c.gateway.GetMember(ctx, row.GuildID, row.UserID)
		switch {
		case errors.Is(err, gateway.ErrNotFound):
			if _, err := c.store.ClaimNotification(ctx, row.GuildID, row.UserID, row.ExpiryMs); err != nil {
				log.Warn("claim timeout row failed", zap.Error(err))
			}
			stats.Departed++
			notifications.WithLabelValues("departed").Inc()
			continue
		case err != nil:
			log.Warn("fetch member failed", zap.Error(err))
			stats.Skipped++
			notifications.WithLabelValues("skipped").Inc()
			continue
		}

		if member.TimedOut(now) {
			// Re-applied or extended since it was tracked.
			if err := c.store.UpsertTimeout(ctx, storage.ActiveTimeout{GuildID: row.GuildID, UserID: row.UserID, ExpiryMs: member.TimeoutUntil.UnixMilli(), CreatedMs: row.CreatedMs}); err != nil {
				log.Warn("reschedule timeout failed", zap.Error(err))
			}
			stats.Extended++
			notifications.WithLabelValues("extended").Inc()
			continue
		}

		won, err := c.store.ClaimNotification(ctx, row.GuildID, row.UserID, row.ExpiryMs)
		if err != nil {
			log.Warn("claim timeout row failed", zap.Error(err))
			stats.Skipped++
			continue
		}
		if !won {
			stats.Skipped++
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		if err := c.gateway.SendDirectMessage(ctx, row.UserID, ExpiredMessage); err != nil {
			log.Debug("timeout expiry DM failed", zap.Error(err))
			stats.DMFailures++
			notifications.WithLabelValues("dm_failed").Inc()
		} else {
			notifications.WithLabelValues("notified").Inc()
		}
		stats.Notified++
	}
	if stats.Due > 0 {
		c.logger.Debug("timeout check finished", zap.Int("due", stats.Due), zap.Int("notified", stats.Notified), zap.Int("extended", stats.Extended))
	}
	return stats, nil
}

// Purge deletes rows created before the retention window, notified or not.
func (c *Checker) Purge(ctx context.Context) (int64, error) {
	cutoff := c.clock.Now().Add(-c.cfg.Retention)
	removed, err := c.store.PurgeTimeouts(ctx, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.logger.Info("purged timeout rows", zap.Int64("removed", removed))
	}
	return removed, nil
}
