package repo

import (
	"context"
	"database/sql"
	"time"
)

// TokenKey is the fixed key the bearer credential is stored under.
const TokenKey = "token"

// GetCredential reads a stored credential value.
func (r Repo) GetCredential(ctx context.Context, key string) (string, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key=?`, key)
	var value string
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetCredential stores or replaces a credential value.
func (r Repo) SetCredential(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO credentials(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, now)
	return err
}

// DeleteCredential removes a credential; deleting an absent key is not
// an error.
func (r Repo) DeleteCredential(ctx context.Context, key string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM credentials WHERE key=?`, key)
	return err
}
