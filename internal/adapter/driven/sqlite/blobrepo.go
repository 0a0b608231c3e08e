package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmaloy/keydeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BlobStore = (*BlobRepo)(nil)

// BlobRepo is the SQLite implementation of the BlobStore port. Values are
// opaque to the repo; the key service owns the encoding.
type BlobRepo struct {
	db *DB
}

// NewBlobRepo creates a new BlobRepo.
func NewBlobRepo(db *DB) *BlobRepo {
	return &BlobRepo{db: db}
}

// LoadBlob returns the stored value for key, or (nil, nil) when the key has
// never been saved.
func (r *BlobRepo) LoadBlob(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT value FROM blobs WHERE key = ?`

	var value []byte
	err := r.db.Reader.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load blob %q: %w", key, err)
	}
	return value, nil
}

// SaveBlob stores or replaces the value for key.
func (r *BlobRepo) SaveBlob(ctx context.Context, key string, value []byte) error {
	const query = `INSERT OR REPLACE INTO blobs (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`

	if _, err := r.db.Writer.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("save blob %q: %w", key, err)
	}
	return nil
}
