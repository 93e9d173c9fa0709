package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes the host-side gallery database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Downloaded media metadata, keyed by the filename on the glasses
	CREATE TABLE IF NOT EXISTS downloaded_photos (
		name TEXT PRIMARY KEY,
		is_video INTEGER NOT NULL DEFAULT 0,
		local_path TEXT NOT NULL,
		thumbnail_path TEXT,
		mime_type TEXT,
		file_size INTEGER NOT NULL DEFAULT 0,
		downloaded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_downloaded_photos_downloaded_at ON downloaded_photos(downloaded_at);

	-- Single sync cursor per device pairing
	CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY DEFAULT 1,
		client_id TEXT NOT NULL,
		last_sync_time INTEGER NOT NULL DEFAULT 0,
		total_downloaded INTEGER NOT NULL DEFAULT 0,
		total_size INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		CHECK (id = 1)
	);
	`

	_, err := db.Exec(schema)
	return err
}
