package storage

import (
	"context"
	"time"
)

type ActiveTimeout struct {
	GuildID   string
	UserID    string
	ExpiryMs  int64
	CreatedMs int64
	Notified  bool
}

// UpsertTimeout records a timeout, replacing any earlier expiry for the
// member and clearing its notified flag.
func (s *Store) UpsertTimeout(ctx context.Context, t ActiveTimeout) error {
	if t.CreatedMs == 0 {
		t.CreatedMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO active_timeouts (guild_id, user_id, expiry_ms, created_at_ms, notified)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			expiry_ms = excluded.expiry_ms,
			created_at_ms = excluded.created_at_ms,
			notified = 0
	`), t.GuildID, t.UserID, t.ExpiryMs, t.CreatedMs)
	return err
}

func (s *Store) GetTimeout(ctx context.Context, guildID, userID string) (ActiveTimeout, bool, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT guild_id, user_id, expiry_ms, created_at_ms, notified
		FROM active_timeouts WHERE guild_id = ? AND user_id = ?
	`), guildID, userID)
	if err != nil {
		return ActiveTimeout{}, false, err
	}
	list, err := scanTimeouts(rows)
	if err != nil || len(list) == 0 {
		return ActiveTimeout{}, false, err
	}
	return list[0], true, nil
}

func (s *Store) DueTimeouts(ctx context.Context, nowMs int64) ([]ActiveTimeout, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT guild_id, user_id, expiry_ms, created_at_ms, notified
		FROM active_timeouts
		WHERE expiry_ms <= ? AND notified = 0
		ORDER BY expiry_ms
	`), nowMs)
	if err != nil {
		return nil, err
	}
	return scanTimeouts(rows)
}

// ClaimNotification flips notified for the row only if it still carries the
// given expiry and has not been claimed. It reports whether this caller won.
func (s *Store) ClaimNotification(ctx context.Context, guildID, userID string, expiryMs int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE active_timeouts SET notified = 1
		WHERE guild_id = ? AND user_id = ? AND expiry_ms = ? AND notified = 0
	`), guildID, userID, expiryMs)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) PurgeTimeouts(ctx context.Context, createdBeforeMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM active_timeouts WHERE created_at_ms < ?`), createdBeforeMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanTimeouts(rows rowScanner) ([]ActiveTimeout, error) {
	defer rows.Close()
	var list []ActiveTimeout
	for rows.Next() {
		var t ActiveTimeout
		var notified int
		if err := rows.Scan(&t.GuildID, &t.UserID, &t.ExpiryMs, &t.CreatedMs, &notified); err != nil {
			return nil, err
		}
		t.Notified = notified == 1
		list = append(list, t)
	}
	return list, rows.Err()
}
