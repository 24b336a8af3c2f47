package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/onedrivesync/core/internal/accountid"
)

const (
	sqlGetDeltaToken = `SELECT token FROM delta_tokens WHERE hashed_account_id = ? AND drive_id = ?` //nolint:gosec // G101: a delta resume cursor, not a credential

	sqlUpsertDeltaToken = `INSERT INTO delta_tokens (hashed_account_id, drive_id, token, captured_at_utc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hashed_account_id, drive_id) DO UPDATE SET
		 token = excluded.token,
		 captured_at_utc = excluded.captured_at_utc`
)

// GetDeltaToken returns the saved resumable delta token for an account's
// drive, or "" if no token has been saved yet (first sync).
func (s *Store) GetDeltaToken(ctx context.Context, hashedID accountid.HashedAccountId, driveID string) (string, error) {
	var token string

	err := s.db.QueryRowContext(ctx, sqlGetDeltaToken, hashedID.String(), driveID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("store: getting delta token for drive %s: %w", driveID, err)
	}

	return token, nil
}

// SaveDeltaToken atomically replaces the resumable token for an account's
// drive, in its own transaction. Prefer ApplyDeltaPageWithToken when the
// token must be committed atomically with the page that produced it.
func (s *Store) SaveDeltaToken(ctx context.Context, hashedID accountid.HashedAccountId, driveID, token string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning save delta token transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := saveDeltaTokenInTx(ctx, tx, hashedID, driveID, token, s.nowFunc()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing save delta token transaction: %w", err)
	}

	return nil
}

func saveDeltaTokenInTx(
	ctx context.Context, tx *sql.Tx, hashedID accountid.HashedAccountId, driveID, token string, now time.Time,
) error {
	_, err := tx.ExecContext(ctx, sqlUpsertDeltaToken, hashedID.String(), driveID, token, now.UnixNano())
	if err != nil {
		return fmt.Errorf("store: saving delta token for drive %s: %w", driveID, err)
	}

	return nil
}
