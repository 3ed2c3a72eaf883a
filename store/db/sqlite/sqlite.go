package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/glowingkitty/openmates-core/internal/profile"
	"github.com/glowingkitty/openmates-core/store"
)

// SQLite is supported on a best-effort basis for development and single
// user instances. Concurrent writes are limited by SQLite itself; prod
// deployments should use the postgres driver.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a SQLite-backed record store.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("sqlite", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	// WAL keeps readers from blocking the single writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	driver := DB{db: db, profile: profile}
	return &driver, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS user (
		id TEXT PRIMARY KEY,
		id_hash TEXT NOT NULL UNIQUE,
		created_ts INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS chat (
		id TEXT PRIMARY KEY,
		user_id_hash TEXT NOT NULL,
		messages_v INTEGER NOT NULL DEFAULT 0,
		title_v INTEGER NOT NULL DEFAULT 0,
		last_edited_ts INTEGER NOT NULL DEFAULT 0,
		encrypted_title TEXT NOT NULL DEFAULT '',
		encrypted_icon TEXT NOT NULL DEFAULT '',
		encrypted_category TEXT NOT NULL DEFAULT '',
		encrypted_chat_key TEXT NOT NULL DEFAULT '',
		encrypted_tags TEXT NOT NULL DEFAULT '',
		encrypted_summary TEXT NOT NULL DEFAULT '',
		encrypted_suggestions TEXT NOT NULL DEFAULT '',
		encrypted_focus_id TEXT NOT NULL DEFAULT '',
		unread_count INTEGER NOT NULL DEFAULT 0,
		pinned INTEGER NOT NULL DEFAULT 0,
		last_message_ts INTEGER NOT NULL DEFAULT 0,
		scroll_anchor_id TEXT NOT NULL DEFAULT '',
		created_ts INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_user_edited ON chat (user_id_hash, last_edited_ts DESC)`,
	`CREATE TABLE IF NOT EXISTS message (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		user_id_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		encrypted_content TEXT NOT NULL DEFAULT '',
		encrypted_sender TEXT NOT NULL DEFAULT '',
		encrypted_model TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'sent',
		created_ts INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_chat_created ON message (chat_id, created_ts)`,
	`CREATE TABLE IF NOT EXISTS draft (
		user_id_hash TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		encrypted_draft_md TEXT NOT NULL DEFAULT '',
		draft_v INTEGER NOT NULL DEFAULT 0,
		updated_ts INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id_hash, chat_id)
	)`,
}

func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to run migration")
		}
	}
	return nil
}
