package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/segmentio/ksuid"
)

const schemaVersion = 1

// SQLite keeps backup payloads in a single database file.
// Locations have the form "backup:<id>".
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// - id: opaque part of the backup location
	// - data: full document payload
	// - updated_at: unix seconds, used for pruning
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS backups (
            id TEXT PRIMARY KEY,
            data BLOB NOT NULL,
            updated_at INTEGER NOT NULL
        )`); err != nil {
		return fmt.Errorf("failed to create backups table: %w", err)
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return tx.Commit()
}

// NewBackupLocation returns a fresh, unused backup location.
func NewBackupLocation() Location {
	return Location(SchemeBackup + ":" + ksuid.New().String())
}

func backupID(loc Location) (string, error) {
	if loc.Scheme() != SchemeBackup {
		return "", fmt.Errorf("not a backup location: %s", loc)
	}
	id := loc.Opaque()
	if id == "" {
		return "", fmt.Errorf("empty backup id: %s", loc)
	}
	return id, nil
}

func (s *SQLite) ReadFile(ctx context.Context, loc Location) ([]byte, error) {
	id, err := backupID(loc)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.QueryRowContext(ctx, "SELECT data FROM backups WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *SQLite) WriteFile(ctx context.Context, loc Location, data []byte) error {
	id, err := backupID(loc)
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO backups (id, data, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            data = excluded.data,
            updated_at = excluded.updated_at
    `, id, data, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert backup: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, loc Location) error {
	id, err := backupID(loc)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM backups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return nil
}

// Prune removes backups last written before cutoff and returns how many.
func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM backups WHERE updated_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune backups: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
