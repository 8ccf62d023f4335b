package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medsync/medsync/internal/schema"
)

// MarkCreated records a successful remote create.
//
// The row always takes the remote id and loses its local_id, since the
// record now exists remotely under that id. It becomes Synced only if it
// is still Pending with the updated_at read before the push (seen);
// otherwise it stays Pending and ErrChanged is returned. References from
// tests and patient_doctors follow the id change through ON UPDATE CASCADE.
func (s *Store) MarkCreated(ctx context.Context, kind schema.Kind, oldID, remoteID string, seen, at time.Time) error {
	table, err := tableName(kind)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`UPDATE %s SET id = ?, local_id = NULL WHERE id = ?`, table)
	if err := execOne(ctx, tx, kind, oldID, "mark created", query, remoteID, oldID); err != nil {
		return err
	}
	marked, err := markSynced(ctx, tx, table, kind, remoteID, seen, at)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if !marked {
		return fmt.Errorf("%s %s: %w", kind, remoteID, ErrChanged)
	}
	return nil
}

// MarkSynced records a successful remote update. The row becomes Synced
// only if it is still Pending with the updated_at read before the push
// (seen); otherwise it is left alone and ErrChanged is returned.
func (s *Store) MarkSynced(ctx context.Context, kind schema.Kind, id string, seen, at time.Time) error {
	table, err := tableName(kind)
	if err != nil {
		return err
	}

	marked, err := markSynced(ctx, s.conn, table, kind, id, seen, at)
	if err != nil || marked {
		return err
	}

	var exists int
	err = s.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, table), id).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to mark synced %s %s: %w", kind, id, err)
	}
	return fmt.Errorf("%s %s: %w", kind, id, ErrChanged)
}

// markSynced flips a row to Synced if it has not changed since seen and
// reports whether it did.
func markSynced(ctx context.Context, db execer, table string, kind schema.Kind, id string, seen, at time.Time) (bool, error) {
	query := fmt.Sprintf(`
	UPDATE %s SET
		sync_status = 'Synced',
		sync_error = NULL,
		last_synced_at = ?
	WHERE id = ? AND sync_status = 'Pending' AND updated_at = ?
	`, table)

	res, err := db.ExecContext(ctx, query, formatTime(at), id, formatTime(seen))
	if err != nil {
		return false, fmt.Errorf("failed to mark synced %s %s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark synced %s %s: %w", kind, id, err)
	}
	return n > 0, nil
}

// MarkConflict flags a record for manual review and keeps the push error.
func (s *Store) MarkConflict(ctx context.Context, kind schema.Kind, id, msg string) error {
	table, err := tableName(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
	UPDATE %s SET
		sync_status = 'Conflict',
		sync_error = ?,
		last_synced_at = NULL
	WHERE id = ?
	`, table)

	return execOne(ctx, s.conn, kind, id, "mark conflict", query, msg, id)
}

// ResetConflict moves a Conflict record back to Pending so the next pass
// retries it. Returns ErrNotFound if no such record is in Conflict.
func (s *Store) ResetConflict(ctx context.Context, kind schema.Kind, id string) error {
	table, err := tableName(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
	UPDATE %s SET
		sync_status = 'Pending',
		sync_error = NULL,
		updated_at = ?
	WHERE id = ? AND sync_status = 'Conflict'
	`, table)

	return execOne(ctx, s.conn, kind, id, "reset conflict", query, formatTime(time.Now()), id)
}

// CountPending returns the number of Pending records of a kind that are
// not soft-deleted.
func (s *Store) CountPending(ctx context.Context, kind schema.Kind) (int, error) {
	return s.count(ctx, kind, `sync_status = 'Pending' AND is_deleted = 0`)
}

// CountConflicts returns the number of Conflict records of a kind.
func (s *Store) CountConflicts(ctx context.Context, kind schema.Kind) (int, error) {
	return s.count(ctx, kind, `sync_status = 'Conflict'`)
}

func (s *Store) count(ctx context.Context, kind schema.Kind, where string) (int, error) {
	table, err := tableName(kind)
	if err != nil {
		return 0, err
	}

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, table, where)
	if err := s.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execOne(ctx context.Context, db execer, kind schema.Kind, id, op, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s %s %s: %w", op, kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s %s %s: %w", op, kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
