package export

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry is one recorded export.
type Entry struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"owner_id"`
	FileName  string    `json:"file_name"`
	Key       string    `json:"key"`
	Rows      int       `json:"rows"`
	Uploaded  bool      `json:"uploaded"`
	CreatedAt time.Time `json:"created_at"`
}

// Log records exports in SQLite.
type Log struct {
	db *sql.DB
}

// NewLog creates an export log.
func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

// Record stores the outcome of an export.
func (l *Log) Record(ctx context.Context, ownerID string, res *Result) error {
	if _, err := l.db.ExecContext(ctx,
		"INSERT INTO exports (owner_id, file_name, blob_key, row_count, uploaded) VALUES (?, ?, ?, ?, ?)",
		ownerID, res.FileName, res.Key, res.Rows, res.Uploaded(),
	); err != nil {
		return fmt.Errorf("recording export: %w", err)
	}
	return nil
}

// LatestUploaded returns the owner's most recent uploaded export, or nil.
func (l *Log) LatestUploaded(ctx context.Context, ownerID string) (*Entry, error) {
	var e Entry
	err := l.db.QueryRowContext(ctx,
		`SELECT id, owner_id, file_name, blob_key, row_count, uploaded, created_at
		 FROM exports WHERE owner_id = ? AND uploaded = 1 ORDER BY id DESC LIMIT 1`,
		ownerID,
	).Scan(&e.ID, &e.OwnerID, &e.FileName, &e.Key, &e.Rows, &e.Uploaded, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest export: %w", err)
	}
	return &e, nil
}
