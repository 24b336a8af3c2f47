package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/onedrivesync/core/internal/accountid"
)

const (
	sqlInsertConflict = `INSERT INTO conflicts
		(id, hashed_account_id, relative_path, local_modified_utc, remote_modified_utc,
		 local_size, remote_size, detected_utc, resolution_strategy, resolved, resolved_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlGetConflictByAccountPath = `SELECT id, hashed_account_id, relative_path, local_modified_utc,
		remote_modified_utc, local_size, remote_size, detected_utc, resolution_strategy,
		resolved, resolved_utc
		FROM conflicts WHERE hashed_account_id = ? AND relative_path = ? AND resolved = 0`

	sqlListUnresolvedConflicts = `SELECT id, hashed_account_id, relative_path, local_modified_utc,
		remote_modified_utc, local_size, remote_size, detected_utc, resolution_strategy,
		resolved, resolved_utc
		FROM conflicts WHERE hashed_account_id = ? AND resolved = 0
		ORDER BY detected_utc`

	sqlResolveConflict = `UPDATE conflicts
		SET resolution_strategy = ?, resolved = 1, resolved_utc = ?
		WHERE id = ? AND resolved = 0`
)

// AddConflict inserts a new conflict. The unique partial index enforces the
// spec §3 invariant of at most one unresolved conflict per
// (hashedAccountId, relativePath): inserting a second one for the same path
// returns an error. If c.ID is empty, one is generated.
func (s *Store) AddConflict(ctx context.Context, c *Conflict) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	if c.ResolutionStrategy == "" {
		c.ResolutionStrategy = ResolutionNone
	}

	_, err := s.db.ExecContext(ctx, sqlInsertConflict,
		c.ID, c.HashedAccountID.String(), c.RelativePath,
		nullTime(c.LocalModifiedUTC), nullTime(c.RemoteModifiedUTC),
		c.LocalSize, c.RemoteSize, c.DetectedUTC.UnixNano(),
		string(c.ResolutionStrategy), boolToInt(c.Resolved), nullTime(c.ResolvedUTC),
	)
	if err != nil {
		return fmt.Errorf("store: inserting conflict for %s: %w", c.RelativePath, err)
	}

	return nil
}

// GetConflict returns the unresolved conflict for a path, or nil if there is none.
func (s *Store) GetConflict(
	ctx context.Context, hashedID accountid.HashedAccountId, relativePath string,
) (*Conflict, error) {
	row := s.db.QueryRowContext(ctx, sqlGetConflictByAccountPath, hashedID.String(), relativePath)

	c, err := scanConflictRow(row)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // absence of a conflict is not an error
	}

	if err != nil {
		return nil, fmt.Errorf("store: getting conflict for %s: %w", relativePath, err)
	}

	return c, nil
}

// ListUnresolvedConflicts returns every unresolved conflict for an account,
// ordered by detection time.
func (s *Store) ListUnresolvedConflicts(ctx context.Context, hashedID accountid.HashedAccountId) ([]Conflict, error) {
	rows, err := s.db.QueryContext(ctx, sqlListUnresolvedConflicts, hashedID.String())
	if err != nil {
		return nil, fmt.Errorf("store: listing unresolved conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []Conflict

	for rows.Next() {
		c, err := scanConflictRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning conflict row: %w", err)
		}

		conflicts = append(conflicts, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating conflict rows: %w", err)
	}

	return conflicts, nil
}

// ResolveConflict marks a conflict resolved with the given strategy. Only
// updates unresolved conflicts, making repeated calls idempotent-safe.
func (s *Store) ResolveConflict(ctx context.Context, id string, strategy ResolutionStrategy) error {
	result, err := s.db.ExecContext(ctx, sqlResolveConflict, string(strategy), s.nowFunc().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("store: resolving conflict %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: checking rows affected for conflict %s: %w", id, err)
	}

	if rows == 0 {
		return fmt.Errorf("store: conflict %s not found or already resolved", id)
	}

	return nil
}

// conflictScanner abstracts the Scan method shared by *sql.Rows and *sql.Row,
// letting one scan implementation serve both multi-row and single-row queries.
type conflictScanner interface {
	Scan(dest ...any) error
}

func scanConflictRow(row conflictScanner) (*Conflict, error) {
	var (
		c               Conflict
		hashedAccountID string
		localModified   sql.NullInt64
		remoteModified  sql.NullInt64
		detected        int64
		resolution      string
		resolved        int
		resolvedAt      sql.NullInt64
	)

	err := row.Scan(
		&c.ID, &hashedAccountID, &c.RelativePath, &localModified, &remoteModified,
		&c.LocalSize, &c.RemoteSize, &detected, &resolution, &resolved, &resolvedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	hashedID, err := accountid.Parse(hashedAccountID)
	if err != nil {
		return nil, fmt.Errorf("store: parsing hashed account id %q: %w", hashedAccountID, err)
	}

	c.HashedAccountID = hashedID
	c.LocalModifiedUTC = timeFromNullInt64(localModified)
	c.RemoteModifiedUTC = timeFromNullInt64(remoteModified)
	c.DetectedUTC = timeFromInt64(detected)
	c.ResolutionStrategy = ResolutionStrategy(resolution)
	c.Resolved = resolved != 0
	c.ResolvedUTC = timeFromNullInt64(resolvedAt)

	return &c, nil
}
