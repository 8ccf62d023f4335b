// Package schema defines the syncable records of the lab record store.
//
// # Overview
//
// Three entity kinds are pushed to the remote store: Patient, Doctor and Test.
// Each embeds SyncMeta, the synchronization metadata the offline queue and the
// sync engine maintain:
//
//	id              canonical identifier (local until the remote assigns one)
//	local_id        set only while the record has never been created remotely
//	sync_status     Pending | Synced | Conflict
//	is_deleted      soft delete flag, propagated as an update
//	last_synced_at  time of the last successful push
//
// The invariant every writer preserves:
//
//	LocalID != ""  <=>  the record has never been created on the remote store
//
// # Kinds
//
// Kind is a closed enum. PushOrder fixes the order in which kinds are pushed:
// Patients and Doctors first, Tests last, because a Test references both by id.
//
// # Join Records
//
// PatientDoctor links carry the same metadata pattern but are never pushed on
// their own. They live in the local store and follow the id swaps of the
// records they reference.
package schema
