package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS relay_changes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	at          TEXT    NOT NULL,
	week_minute INTEGER NOT NULL,
	previous    INTEGER NOT NULL,
	current     INTEGER NOT NULL,
	manual      BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS distribution_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	at        TEXT NOT NULL,
	operation TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	detail    TEXT NOT NULL DEFAULT ''
);
`

// Open opens the journal database at path, creating it and its schema if needed.
// ":memory:" is accepted for tests.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" one database
	db.SetMaxOpenConns(1)

	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Journal database opened")
	return db, nil
}

// ApplySchema creates the journal tables and adds columns missing from older files.
func ApplySchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	hasManual, err := hasColumn(tx, "relay_changes", "manual")
	if err != nil {
		return err
	}
	if !hasManual {
		if _, err := tx.Exec(`ALTER TABLE relay_changes ADD COLUMN manual BOOLEAN NOT NULL DEFAULT FALSE`); err != nil {
			return fmt.Errorf("failed to add manual column: %w", err)
		}
		log.Info().Msg("Migrated relay_changes: added manual column")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

func hasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to read %s columns: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull      bool
			defaultValue *string
			pk           int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
