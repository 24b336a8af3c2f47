package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/onedrivesync/core/internal/accountid"
)

const (
	sqlInsertSession = `INSERT INTO session_logs
		(id, hashed_account_id, started_utc, completed_utc, status,
		 files_uploaded, files_downloaded, files_deleted, conflicts_detected, total_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlFinalizeSession = `UPDATE session_logs
		SET completed_utc = ?, status = ?, files_uploaded = ?, files_downloaded = ?,
		 files_deleted = ?, conflicts_detected = ?, total_bytes = ?
		WHERE id = ?`

	sqlInsertOperation = `INSERT INTO operation_logs
		(session_id, hashed_account_id, relative_path, kind, size, local_hash, etag, detail, timestamp_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlInsertDebugLogEntry = `INSERT INTO debug_log_entries
		(hashed_account_id, ts_utc, level, source, message, exception_text)
		VALUES (?, ?, ?, ?, ?, ?)`
)

// StartSession opens a new SessionLog in the Running state and returns its
// generated id. Callers should only call this when the account has detailed
// session logging enabled (spec §3, SessionLog: "one per sync run when
// detailed logging is on").
func (s *Store) StartSession(ctx context.Context, hashedID accountid.HashedAccountId) (string, error) {
	id := uuid.New().String()

	_, err := s.db.ExecContext(ctx, sqlInsertSession,
		id, hashedID.String(), s.nowFunc().UnixNano(), sql.NullInt64{}, string(SessionRunning),
		0, 0, 0, 0, 0,
	)
	if err != nil {
		return "", fmt.Errorf("store: starting session: %w", err)
	}

	return id, nil
}

// FinalizeSession records the terminal state and accumulated counters of a
// session (SyncOrchestrator's Finalize step, spec §4.8).
func (s *Store) FinalizeSession(ctx context.Context, sessionID string, status SessionStatus, counters SessionLog) error {
	_, err := s.db.ExecContext(ctx, sqlFinalizeSession,
		s.nowFunc().UnixNano(), string(status),
		counters.FilesUploaded, counters.FilesDownloaded, counters.FilesDeleted,
		counters.ConflictsDetected, counters.TotalBytes, sessionID,
	)
	if err != nil {
		return fmt.Errorf("store: finalizing session %s: %w", sessionID, err)
	}

	return nil
}

// AppendOperation appends one action record to the append-only operation log.
func (s *Store) AppendOperation(ctx context.Context, op *OperationLog) error {
	_, err := s.db.ExecContext(ctx, sqlInsertOperation,
		op.SessionID, op.HashedAccountID.String(), op.RelativePath, string(op.Kind),
		op.Size, nullString(op.LocalHash), nullString(op.ETag), nullString(op.Detail),
		s.nowFunc().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: appending operation log for %s: %w", op.RelativePath, err)
	}

	return nil
}

// AppendDebugLog appends one diagnostic line. Callers gate this on the
// owning account's debugLoggingEnabled flag (spec §3).
func (s *Store) AppendDebugLog(ctx context.Context, entry *DebugLogEntry) error {
	_, err := s.db.ExecContext(ctx, sqlInsertDebugLogEntry,
		entry.HashedAccountID.String(), s.nowFunc().UnixNano(), entry.Level, entry.Source,
		entry.Message, nullString(entry.ExceptionText),
	)
	if err != nil {
		return fmt.Errorf("store: appending debug log entry: %w", err)
	}

	return nil
}
