// Package db implements Beacon's SQLite storage: a history of peer
// connections and of the advertisements the endpoint has served.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/energizer-project/beacon/internal/util"
)

// Migration is one schema step. Migrations are applied in slice order and
// the number applied so far is kept in PRAGMA user_version.
type Migration struct {
	Name string
	SQL  string
}

// Database is a SQLite handle with serialized writes and versioned schema
// migrations.
type Database struct {
	mu     sync.Mutex
	db     *sql.DB
	logger zerolog.Logger
}

// NewDatabase opens the database at dbPath, creating its directory and the
// file if needed.
func NewDatabase(dbPath string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	handle, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	// one writer
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)

	d := &Database{
		db:     handle,
		logger: util.ComponentLogger("db").With().Str("path", dbPath).Logger(),
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := handle.Exec(pragma); err != nil {
			d.logger.Warn().Err(err).Str("pragma", pragma).Msg("pragma rejected")
		}
	}
	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping database %s: %w", dbPath, err)
	}

	d.logger.Info().Msg("database opened")
	return d, nil
}

// Close closes the underlying handle.
func (d *Database) Close() error {
	return d.db.Close()
}

// SchemaVersion reports how many migrations have been applied.
func (d *Database) SchemaVersion() (int, error) {
	var version int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies every migration past the current schema version, each in
// its own transaction.
func (d *Database) Migrate(migrations []Migration) error {
	current, err := d.SchemaVersion()
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		m := migrations[i]
		version := i + 1
		err := d.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.SQL); err != nil {
				return err
			}
			// PRAGMA does not take bind parameters.
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", version, m.Name, err)
		}
		d.logger.Info().Int("version", version).Str("migration", m.Name).Msg("migration applied")
	}
	return nil
}

// Exec runs a statement that returns no rows.
func (d *Database) Exec(query string, args ...any) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// Query runs a SELECT.
func (d *Database) Query(query string, args ...any) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

// Transaction runs fn inside a transaction, rolling back if it fails.
func (d *Database) Transaction(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
