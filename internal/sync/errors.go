package sync

import (
	"errors"
	"fmt"

	"github.com/medsync/medsync/internal/schema"
)

// Sentinel errors reported in a pass Result.
var (
	// ErrSyncInProgress rejects a pass started while another is running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrRemoteUnreachable aborts a pass whose liveness probe failed.
	ErrRemoteUnreachable = errors.New("remote unreachable")

	// ErrUnsyncedReference fails a Test that still points at a Patient or
	// Doctor the remote store has never seen.
	ErrUnsyncedReference = errors.New("references a record not yet created remotely")
)

// RecordError is a per-record push failure. The record is flagged
// Conflict and the pass continues.
type RecordError struct {
	Kind schema.Kind
	ID   string
	Op   string // create, update or check
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.ID, e.Op, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
