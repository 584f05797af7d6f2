package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

type Store struct {
	db     *sql.DB
	driver string
}

func New(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one connection keeps :memory: databases shared and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driver}, nil
}

// NewWithDB wraps an existing handle; queries are rewritten for driver.
func NewWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Migrate() error {
	dir := "migrations/sqlite"
	if s.driver == DriverPostgres {
		dir = "migrations/postgres"
	}
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join(dir, file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

// q rewrites ? placeholders into $n for postgres.
func (s *Store) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) GetPolicy(ctx context.Context, guildID string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT document FROM guild_policies WHERE guild_id = ?`), guildID)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(doc), nil
}

func (s *Store) SavePolicy(ctx context.Context, guildID string, raw []byte) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO guild_policies (guild_id, document, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`), guildID, string(raw), time.Now().Unix())
	return err
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
