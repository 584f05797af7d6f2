package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Snapshot is the @everyone overwrite a channel carried before lockdown.
// HadOverride false means the channel inherited its permissions.
type Snapshot struct {
	GuildID     string
	ChannelID   string
	Allow       int64
	Deny        int64
	HadOverride bool
	CreatedAt   time.Time
}

// SaveSnapshot keeps the first snapshot taken for a channel so a repeated
// lock never captures the lockdown overwrite itself. inserted is false when a
// snapshot was already held.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) (inserted bool, err error) {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO lockdown_snapshots (guild_id, channel_id, allow_bits, deny_bits, had_override, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, channel_id) DO NOTHING
	`), snap.GuildID, snap.ChannelID, snap.Allow, snap.Deny, boolToInt(snap.HadOverride), snap.CreatedAt.Unix())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) GetSnapshot(ctx context.Context, guildID, channelID string) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT guild_id, channel_id, allow_bits, deny_bits, had_override, created_at
		FROM lockdown_snapshots WHERE guild_id = ? AND channel_id = ?
	`), guildID, channelID)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, guildID, channelID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM lockdown_snapshots WHERE guild_id = ? AND channel_id = ?`), guildID, channelID)
	return err
}

func (s *Store) CountSnapshots(ctx context.Context, guildID string) (int, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM lockdown_snapshots WHERE guild_id = ?`), guildID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListSnapshots(ctx context.Context, guildID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT guild_id, channel_id, allow_bits, deny_bits, had_override, created_at
		FROM lockdown_snapshots WHERE guild_id = ? ORDER BY channel_id
	`), guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var snap Snapshot
	var hadOverride int
	var created int64
	if err := row.Scan(&snap.GuildID, &snap.ChannelID, &snap.Allow, &snap.Deny, &hadOverride, &created); err != nil {
		return Snapshot{}, err
	}
	snap.HadOverride = hadOverride == 1
	snap.CreatedAt = time.Unix(created, 0)
	return snap, nil
}
