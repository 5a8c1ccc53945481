package sqlstore

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config selects the backing database. The site ships with a single-file
// embedded store; a postgres DSN is accepted for deployments that already
// run one.
type Config struct {
	Driver string `mapstructure:"driver" envconfig:"DB_DRIVER" default:"sqlite3"`
	DSN    string `mapstructure:"dsn" envconfig:"DB_DSN" default:"mailroom.db"`
}

const schema = `
CREATE TABLE IF NOT EXISTS queued_emails (
	id              TEXT PRIMARY KEY,
	recipient       TEXT NOT NULL,
	subject         TEXT NOT NULL,
	html_body       TEXT NOT NULL,
	text_body       TEXT,
	from_email      TEXT,
	from_name       TEXT,
	sender_name     TEXT,
	sender_email    TEXT,
	sender_phone    TEXT,
	sender_message  TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 7,
	last_attempt_at TIMESTAMP,
	next_retry_at   TIMESTAMP,
	last_error      TEXT,
	created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queued_emails_status ON queued_emails (status);

CREATE TABLE IF NOT EXISTS verification_codes (
	id          TEXT PRIMARY KEY,
	email       TEXT NOT NULL,
	category    TEXT NOT NULL,
	code        TEXT NOT NULL,
	email_id    TEXT,
	verified    BOOLEAN NOT NULL DEFAULT FALSE,
	invalidated BOOLEAN NOT NULL DEFAULT FALSE,
	attempts    INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verification_codes_key ON verification_codes (email, category);
`

// NewDB opens the database and ensures the schema exists.
func NewDB(cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		// Single writer; serialize access instead of failing on SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
			return nil, fmt.Errorf("failed to set journal mode: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}
