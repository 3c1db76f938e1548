package store

import (
	"context"
	"database/sql"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

// getState reads a single value from the state table. It returns "", false
// when the key is absent rather than an error: an absent key is the normal
// startup condition, not a failure.
func (s *SQLiteStore) getState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, nellieerrors.New(nellieerrors.KindStorageDatabase, "reading state key "+key, err)
	}
	return value, true, nil
}

// setState upserts a single value into the state table.
func (s *SQLiteStore) setState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "writing state key "+key, err)
	}
	return nil
}

// deleteState removes a single key. Deleting an absent key is a no-op.
func (s *SQLiteStore) deleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key); err != nil {
		return nellieerrors.New(nellieerrors.KindStorageDatabase, "deleting state key "+key, err)
	}
	return nil
}
