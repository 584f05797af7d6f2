package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ModeratorSystem marks cases created by automated enforcement.
const ModeratorSystem = "system"

const maxCaseAttempts = 5

var ErrCaseConflict = errors.New("storage: case number allocation kept conflicting")

type Case struct {
	GuildID         string
	CaseNumber      int
	UserID          string
	UserTag         string
	ModeratorID     string
	ActionType      string
	Reason          string
	DurationSeconds *int
	CreatedAt       time.Time
}

type Warning struct {
	GuildID     string
	UserID      string
	ModeratorID string
	Reason      string
	CaseNumber  int
	CreatedAt   time.Time
}

type Note struct {
	GuildID     string
	UserID      string
	ModeratorID string
	Content     string
	CreatedAt   time.Time
}

func (s *Store) NextCaseNumber(ctx context.Context, guildID string) (int, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(case_number), 0) + 1 FROM mod_cases WHERE guild_id = ?`), guildID)
	var next int
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// CreateCase assigns max(case_number)+1 for the guild and inserts the case in
// one transaction. A concurrent writer that took the same number trips the
// primary key and the allocation is retried.
func (s *Store) CreateCase(ctx context.Context, c Case) (int, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	for attempt := 0; attempt < maxCaseAttempts; attempt++ {
		number, err := s.insertCase(ctx, c)
		if err == nil {
			return number, nil
		}
		if !isUniqueViolation(err) {
			return 0, err
		}
	}
	return 0, ErrCaseConflict
}

func (s *Store) insertCase(ctx context.Context, c Case) (number int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(case_number), 0) + 1 FROM mod_cases WHERE guild_id = ?`), c.GuildID)
	if err = row.Scan(&number); err != nil {
		return 0, err
	}

	var duration any
	if c.DurationSeconds != nil {
		duration = *c.DurationSeconds
	}
	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO mod_cases (guild_id, case_number, user_id, user_tag, moderator_id, action_type, reason, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), c.GuildID, number, c.UserID, c.UserTag, c.ModeratorID, c.ActionType, c.Reason, duration, c.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return number, nil
}

func (s *Store) ListCases(ctx context.Context, guildID string) ([]Case, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT guild_id, case_number, user_id, user_tag, moderator_id, action_type, reason, duration_seconds, created_at
		FROM mod_cases
		WHERE guild_id = ?
		ORDER BY case_number
	`), guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []Case
	for rows.Next() {
		var c Case
		var duration sql.NullInt64
		var created int64
		if err := rows.Scan(&c.GuildID, &c.CaseNumber, &c.UserID, &c.UserTag, &c.ModeratorID, &c.ActionType, &c.Reason, &duration, &created); err != nil {
			return nil, err
		}
		if duration.Valid {
			value := int(duration.Int64)
			c.DurationSeconds = &value
		}
		c.CreatedAt = time.Unix(created, 0)
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func (s *Store) InsertWarning(ctx context.Context, w Warning) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO warnings (guild_id, user_id, moderator_id, reason, case_number, active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
	`), w.GuildID, w.UserID, w.ModeratorID, w.Reason, w.CaseNumber, w.CreatedAt.Unix())
	return err
}

func (s *Store) ActiveWarningCount(ctx context.Context, guildID, userID string) (int, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM warnings WHERE guild_id = ? AND user_id = ? AND active = 1`), guildID, userID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ClearWarningsAtLeast deactivates the member's active warnings only when
// there are at least threshold of them. Exactly one caller observes true for
// a given batch of warnings.
func (s *Store) ClearWarningsAtLeast(ctx context.Context, guildID, userID string, threshold int) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE warnings SET active = 0
		WHERE guild_id = ? AND user_id = ? AND active = 1
		AND (SELECT COUNT(*) FROM warnings WHERE guild_id = ? AND user_id = ? AND active = 1) >= ?
	`), guildID, userID, guildID, userID, threshold)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) InsertNote(ctx context.Context, n Note) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO notes (guild_id, user_id, moderator_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), n.GuildID, n.UserID, n.ModeratorID, n.Content, n.CreatedAt.Unix())
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") || strings.Contains(message, "duplicate key value")
}
