// Package lockdown revokes and restores the @everyone write permissions of a
// guild's channels. Prior overwrites are snapshotted in storage before they
// are touched, so a restart mid-lockdown can still restore them exactly.
package lockdown

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"sentinel-automod/internal/gateway"
	"sentinel-automod/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var channelResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "lockdown",
	Name:      "channel_results_total",
	Help:      "Per-channel lockdown operations, by operation and result.",
}, []string{"op", "result"})

type Options struct {
	// Channels limits the operation to these IDs. Empty means every text
	// channel on enable and every snapshotted channel on disable.
	Channels []string
	// Exempt entries match a channel by exact ID or by name substring.
	Exempt []string
	Reason string
}

type Result struct {
	Success []string
	Failed  []string
	// Acquired lists the locked channels whose snapshot this call took. A
	// channel already held by an earlier lock is in Success only.
	Acquired []string
}

type Manager struct {
	gateway gateway.Gateway
	store   *storage.Store
	logger  *zap.Logger

	mu       sync.Mutex
	channels map[string]*sync.Mutex
}

func New(gw gateway.Gateway, store *storage.Store, logger *zap.Logger) *Manager {
	return &Manager{gateway: gw, store: store, logger: logger, channels: make(map[string]*sync.Mutex)}
}

// channelLock serialises snapshot and overwrite changes for one channel.
func (m *Manager) channelLock(guildID, channelID string) *sync.Mutex {
	key := guildID + ":" + channelID
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.channels[key]
	if !ok {
		lock = &sync.Mutex{}
		m.channels[key] = lock
	}
	return lock
}

// Enable locks each target channel. A channel that fails is reported and
// the rest are still processed.
func (m *Manager) Enable(ctx context.Context, guildID string, opts Options) (Result, error) {
	targets, err := m.enableTargets(ctx, guildID, opts)
	if err != nil {
		return Result{}, fmt.Errorf("list channels: %w", err)
	}

	var result Result
	for _, channelID := range targets {
		acquired, err := m.lockChannel(ctx, guildID, channelID)
		if err != nil {
			m.logger.Warn("lockdown channel failed", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
			channelResults.WithLabelValues("enable", "failed").Inc()
			result.Failed = append(result.Failed, channelID)
			continue
		}
		channelResults.WithLabelValues("enable", "success").Inc()
		result.Success = append(result.Success, channelID)
		if acquired {
			result.Acquired = append(result.Acquired, channelID)
		}
	}
	m.logger.Info("lockdown enabled", zap.String("guild_id", guildID), zap.String("reason", opts.Reason), zap.Int("locked", len(result.Success)), zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (m *Manager) lockChannel(ctx context.Context, guildID, channelID string) (acquired bool, err error) {
	lock := m.channelLock(guildID, channelID)
	lock.Lock()
	defer lock.Unlock()

	everyone := guildID
	allow, deny, exists, err := m.gateway.GetChannelPermission(ctx, channelID, everyone)
	if err != nil {
		return false, fmt.Errorf("read overwrite: %w", err)
	}

	inserted, err := m.store.SaveSnapshot(ctx, storage.Snapshot{GuildID: guildID, ChannelID: channelID, Allow: allow, Deny: deny, HadOverride: exists})
	if err != nil {
		return false, fmt.Errorf("save snapshot: %w", err)
	}

	if err := m.gateway.EditChannelPermission(ctx, channelID, everyone, allow&^gateway.LockdownDeny, deny|gateway.LockdownDeny); err != nil {
		if inserted {
			if delErr := m.store.DeleteSnapshot(ctx, guildID, channelID); delErr != nil {
				m.logger.Error("drop unused snapshot", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(delErr))
			}
		}
		return false, fmt.Errorf("write overwrite: %w", err)
	}
	return inserted, nil
}

// Disable restores each target channel from its snapshot. A channel with no
// snapshot, or whose snapshot recorded no overwrite, has its overwrite
// removed so it inherits again.
func (m *Manager) Disable(ctx context.Context, guildID string, opts Options) (Result, error) {
	targets := opts.Channels
	if len(targets) == 0 {
		snaps, err := m.store.ListSnapshots(ctx, guildID)
		if err != nil {
			return Result{}, fmt.Errorf("list snapshots: %w", err)
		}
		for _, snap := range snaps {
			targets = append(targets, snap.ChannelID)
		}
	}

	var result Result
	for _, channelID := range targets {
		if err := m.unlockChannel(ctx, guildID, channelID); err != nil {
			m.logger.Warn("unlock channel failed", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
			channelResults.WithLabelValues("disable", "failed").Inc()
			result.Failed = append(result.Failed, channelID)
			continue
		}
		channelResults.WithLabelValues("disable", "success").Inc()
		result.Success = append(result.Success, channelID)
	}
	m.logger.Info("lockdown disabled", zap.String("guild_id", guildID), zap.String("reason", opts.Reason), zap.Int("restored", len(result.Success)), zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (m *Manager) unlockChannel(ctx context.Context, guildID, channelID string) error {
	lock := m.channelLock(guildID, channelID)
	lock.Lock()
	defer lock.Unlock()

	everyone := guildID
	snap, held, err := m.store.GetSnapshot(ctx, guildID, channelID)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if held && snap.HadOverride {
		err = m.gateway.EditChannelPermission(ctx, channelID, everyone, snap.Allow, snap.Deny)
	} else {
		err = m.gateway.DeleteChannelPermission(ctx, channelID, everyone)
	}
	if err != nil {
		return fmt.Errorf("restore overwrite: %w", err)
	}
	if held {
		if err := m.store.DeleteSnapshot(ctx, guildID, channelID); err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
	}
	return nil
}

// IsLocked reports whether any channel snapshot is held for the guild.
func (m *Manager) IsLocked(ctx context.Context, guildID string) (bool, error) {
	count, err := m.store.CountSnapshots(ctx, guildID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *Manager) enableTargets(ctx context.Context, guildID string, opts Options) ([]string, error) {
	channels, err := m.gateway.ListTextChannels(ctx, guildID)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(opts.Channels))
	for _, id := range opts.Channels {
		wanted[id] = struct{}{}
	}

	var targets []string
	for _, channel := range channels {
		if len(wanted) > 0 {
			if _, ok := wanted[channel.ID]; !ok {
				continue
			}
		}
		if exempt(channel, opts.Exempt) {
			continue
		}
		targets = append(targets, channel.ID)
	}
	return targets, nil
}

func exempt(channel gateway.Channel, patterns []string) bool {
	name := strings.ToLower(channel.Name)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == channel.ID || strings.Contains(name, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
