// Package sqlite persists rooms, plans and usage with mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id              TEXT PRIMARY KEY,
	slug            TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL,
	source_language TEXT NOT NULL,
	target_language TEXT NOT NULL,
	is_public       INTEGER NOT NULL DEFAULT 0,
	owner_id        TEXT NOT NULL,
	qr_id           TEXT NOT NULL DEFAULT '',
	qr_image_url    TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS rooms_owner ON rooms(owner_id);

CREATE TABLE IF NOT EXISTS plans (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	max_listeners     INTEGER NOT NULL,
	max_languages     INTEGER NOT NULL,
	minutes_per_month INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	plan_id              TEXT NOT NULL REFERENCES plans(id),
	status               TEXT NOT NULL,
	current_period_start TIMESTAMP NOT NULL,
	current_period_end   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS subscriptions_user ON subscriptions(user_id, status);

CREATE TABLE IF NOT EXISTS usage_records (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	period_start TIMESTAMP NOT NULL,
	minutes_used INTEGER NOT NULL DEFAULT 0,
	UNIQUE(user_id, period_start)
);

CREATE TABLE IF NOT EXISTS broadcast_logs (
	id               TEXT PRIMARY KEY,
	room_id          TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	started_at       TIMESTAMP NOT NULL,
	ended_at         TIMESTAMP,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	peak_listeners   INTEGER NOT NULL DEFAULT 0,
	source_language  TEXT NOT NULL,
	target_language  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS broadcast_logs_user ON broadcast_logs(user_id, started_at);
`

type seedPlan struct {
	id, name                  string
	listeners, langs, minutes int
}

var defaultPlans = []seedPlan{
	{"starter", "Starter", 50, 2, 480},
	{"growing", "Growing", 200, 5, 1440},
	{"multiplying", "Multiplying", 1000, 13, 3600},
}

// Store implements core.RoomStore and core.UsageStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed, applies the schema and seeds
// the plan catalogue.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite has a single writer; one connection avoids SQLITE_BUSY storms.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Str("module", "sqlite").Str("path", path).Msg("database ready")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, p := range defaultPlans {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO plans (id, name, max_listeners, max_languages, minutes_per_month) VALUES (?, ?, ?, ?, ?)`,
			p.id, p.name, p.listeners, p.langs, p.minutes,
		); err != nil {
			return fmt.Errorf("seed plan %s: %w", p.id, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
