// Package database provides database connectivity and schema management.
package database

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
func NewDB(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// InitSchema initializes the database schema
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reciters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		folder TEXT NOT NULL UNIQUE,
		style TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS audio_variants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reciter_id INTEGER NOT NULL,
		chapter INTEGER NOT NULL,
		bitrate_kbps INTEGER,
		format TEXT,
		url_pattern TEXT NOT NULL,
		url_kind TEXT NOT NULL,
		local_path TEXT,
		content_hash TEXT,
		size_bytes INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (reciter_id) REFERENCES reciters (id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_audio_variants_pair ON audio_variants(reciter_id, chapter);

	CREATE TABLE IF NOT EXISTS download_tasks (
		id TEXT PRIMARY KEY,
		variant_id INTEGER NOT NULL,
		reciter_id INTEGER NOT NULL,
		chapter INTEGER NOT NULL,
		status TEXT NOT NULL,
		bytes_downloaded INTEGER NOT NULL DEFAULT 0,
		bytes_total INTEGER NOT NULL DEFAULT 0,
		progress REAL NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_download_tasks_pair ON download_tasks(reciter_id, chapter);
	CREATE INDEX IF NOT EXISTS idx_download_tasks_status ON download_tasks(status);
	CREATE INDEX IF NOT EXISTS idx_download_tasks_reciter ON download_tasks(reciter_id);

	CREATE TABLE IF NOT EXISTS ayah_index (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reciter_id INTEGER NOT NULL,
		chapter INTEGER NOT NULL,
		verse INTEGER NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		UNIQUE(reciter_id, chapter, verse)
	);

	CREATE INDEX IF NOT EXISTS idx_ayah_index_range ON ayah_index(reciter_id, chapter, start_ms, end_ms);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Println("Database schema initialized")
	return nil
}
