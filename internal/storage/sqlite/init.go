package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite journal at path and creates the transfers table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// sqlite serialises writers; a single connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY,
		transfer_id TEXT UNIQUE,
		direction TEXT NOT NULL,
		local_path TEXT,
		remote_url TEXT,
		status TEXT NOT NULL,
		total_size INTEGER DEFAULT 0,
		processed_size INTEGER DEFAULT 0,
		error TEXT,
		instance_id TEXT,
		updated_at DATETIME
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create transfers table: %w", err)
	}

	return db, nil
}
