// ABOUTME: SQLite store using modernc.org/sqlite with a serialized write path
// ABOUTME: Applies the ordered, user_version-gated schema migration chain on open

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. A single exclusive lock serializes every
// write across all workers and the sweeper; reads bypass it.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// migration is one schema step. Each step is applied if and only if the stored
// user_version equals its index, then the version advances by one and commits,
// so the full chain re-runs safely on every startup.
type migration struct {
	name  string
	apply func(tx *sql.Tx, adminChatID int64) error
}

var migrations = []migration{
	{name: "create users/items/images, seed admin", apply: migrateV0},
	{name: "rename first_contact, add last_contact and admin flag", apply: migrateV1},
	{name: "create expenses", apply: migrateV2},
	{name: "add usage counters, create completions", apply: migrateV3},
	{name: "add finish_reason, relax completion_response", apply: migrateV4},
}

// Open opens (or creates) the store at the given path and brings the schema up
// to date. The admin chat id is seeded as an allowed admin user by the
// migration chain. Failure here is fatal to the process by contract.
func Open(path string, adminChatID int64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}

	if err := s.migrate(adminChatID); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("store opened", "path", path, "schema_version", len(migrations))
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

// migrate applies every pending migration step in order, each in its own
// transaction, advancing PRAGMA user_version by one per step.
func (s *Store) migrate(adminChatID int64) error {
	for {
		var version int
		if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		if version >= len(migrations) {
			return nil
		}

		step := migrations[version]
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if err := step.apply(tx, adminChatID); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", version, step.name, err)
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("advancing schema version to %d: %w", version+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
		s.logger.Info("applied migration", "version", version+1, "step", step.name)
	}
}

func migrateV0(tx *sql.Tx, adminChatID int64) error {
	stmts := []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			first_name TEXT,
			last_name TEXT,
			nickname TEXT NOT NULL,
			first_contact TEXT,
			user_allowed INTEGER
		)`,
		`CREATE TABLE items (
			id INTEGER PRIMARY KEY,
			chatid INTEGER,
			item TEXT NOT NULL,
			owner TEXT NOT NULL,
			quantity INTEGER NOT NULL
		)`,
		`CREATE TABLE images (
			id INTEGER PRIMARY KEY,
			chatid INTEGER NOT NULL,
			image_filename TEXT NOT NULL,
			timestamp_created TEXT NOT NULL,
			timestamp_deleted TEXT,
			prompt TEXT,
			revised_prompt TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	// Seed the administrative identity as allowed
	var exists int
	err := tx.QueryRow(`SELECT 1 FROM users WHERE id = ?`, adminChatID).Scan(&exists)
	if err == sql.ErrNoRows {
		_, err = tx.Exec(`INSERT INTO users (id, nickname, user_allowed) VALUES (?, 'admin', 1)`, adminChatID)
	}
	return err
}

func migrateV1(tx *sql.Tx, adminChatID int64) error {
	stmts := []string{
		`ALTER TABLE users RENAME COLUMN first_contact TO first_contact_timestamp`,
		`ALTER TABLE users ADD COLUMN last_contact_timestamp TEXT`,
		`ALTER TABLE users ADD COLUMN is_admin INTEGER`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	// Promote the administrative identity
	_, err := tx.Exec(`UPDATE users SET is_admin = 1 WHERE id = ?`, adminChatID)
	return err
}

func migrateV2(tx *sql.Tx, _ int64) error {
	_, err := tx.Exec(`CREATE TABLE expenses (
		id INTEGER PRIMARY KEY,
		chatid INTEGER NOT NULL,
		amount REAL NOT NULL,
		category TEXT NOT NULL,
		date TEXT NOT NULL,
		description TEXT
	)`)
	return err
}

func migrateV3(tx *sql.Tx, _ int64) error {
	stmts := []string{
		`ALTER TABLE users ADD COLUMN total_completion_tokens INTEGER`,
		`ALTER TABLE users ADD COLUMN total_prompt_tokens INTEGER`,
		`ALTER TABLE users ADD COLUMN total_images INTEGER`,
		`CREATE TABLE completions (
			id INTEGER PRIMARY KEY,
			chatid INTEGER NOT NULL,
			completion_id TEXT NOT NULL,
			completion_created TEXT NOT NULL,
			completion_model TEXT NOT NULL,
			completion_response TEXT NOT NULL,
			prompt_tokens TEXT NOT NULL,
			completion_tokens TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV4 adds the finish_reason column and makes completion_response
// nullable. SQLite has no ALTER COLUMN, so the table is rebuilt.
func migrateV4(tx *sql.Tx, _ int64) error {
	stmts := []string{
		`CREATE TABLE completions_new (
			id INTEGER PRIMARY KEY,
			chatid INTEGER NOT NULL,
			completion_id TEXT NOT NULL,
			completion_created TEXT NOT NULL,
			completion_model TEXT NOT NULL,
			completion_response TEXT,
			prompt_tokens TEXT NOT NULL,
			completion_tokens TEXT NOT NULL,
			finish_reason TEXT
		)`,
		`INSERT INTO completions_new (id, chatid, completion_id, completion_created,
			completion_model, completion_response, prompt_tokens, completion_tokens)
			SELECT id, chatid, completion_id, completion_created,
			completion_model, completion_response, prompt_tokens, completion_tokens
			FROM completions`,
		`DROP TABLE completions`,
		`ALTER TABLE completions_new RENAME TO completions`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// exec runs a single write statement under the exclusive write lock.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.ExecContext(ctx, query, args...)
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
