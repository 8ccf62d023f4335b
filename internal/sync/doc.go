// Package sync pushes Pending local records to the remote store.
//
// Overview
//
// The Engine runs one pass per Sync call. A pass probes the remote store,
// then pushes every Pending record kind by kind in schema.PushOrder:
//
//	Local Store (Pending rows)
//	     ├── patients   → create or update
//	     ├── doctors    → create or update
//	     └── tests      → create or update (after their patient and doctor)
//	                          ↓
//	                     Remote Store
//
// Per record:
//
//	local_id set, not deleted   → Create, then take the remote id (MarkCreated)
//	otherwise                   → Update keyed by id (MarkSynced)
//	Update finds no record      → treated as synced, nothing to change remotely
//	any other failure           → MarkConflict, error appended, pass continues
//	record saved during push    → stays Pending, pushed again next pass
//
// Usage
//
//	engine := sync.New(localStore, remoteStore, sync.DefaultConfig(), logger)
//	res := engine.Sync(ctx)
//	if !res.Success {
//	    // res.Errors holds "remote unreachable" or a pass-level failure
//	}
//
// Single Flight
//
// At most one pass runs at a time. A concurrent Sync returns immediately
// with Success=false and the single error "sync already in progress". The
// in-progress flag is cleared when the pass ends, panics included.
//
// Error Handling
//
//   - A failed probe aborts the pass before any record is touched
//   - Per-record failures become Conflict and never abort the pass
//   - Failing to record an outcome locally is logged and appended to the
//     errors; the record stays Pending and the next pass retries it
//   - A record saved again while its push was in flight is not marked
//     Synced; a create still takes the remote id so the retry is an update
//
// Remote to local pull is not implemented: the remote store is written
// only by this engine.
package sync
