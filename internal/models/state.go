// Package models defines the data models persisted in the database and
// exposed over the HTTP API.
package models

// State is the primary document lifecycle state, mirroring the remote
// store's document states.
type State string

const (
	StateUnspecified State = "STATE_UNSPECIFIED"
	// StatePending marks a document queued for upload, or in flight with no
	// terminal result yet.
	StatePending State = "STATE_PENDING"
	// StateActive marks a document confirmed present and indexed remotely.
	StateActive State = "STATE_ACTIVE"
	// StateFailed marks a terminal upload failure.
	StateFailed State = "STATE_FAILED"
)

// SyncState is the advisory overlay produced by reconciliation. It flags a
// document for operator attention without replacing its lifecycle state; a
// later successful reconciliation or upload clears it.
type SyncState string

const (
	SyncStateNone SyncState = ""
	// SyncStateMissingMetadata: the remote copy lacks the id/hash/category
	// custom metadata keys entirely.
	SyncStateMissingMetadata SyncState = "MISSING_METADATA"
	// SyncStateDuplicateFile: a second remote document resolved to an
	// already-matched local document.
	SyncStateDuplicateFile SyncState = "DUPLICATE_FILE"
	// SyncStateMissingRemote: the document has no remote counterpart and
	// needs re-upload.
	SyncStateMissingRemote SyncState = "MISSING_FROM_REMOTE"
	// SyncStateMetadataMismatch: remote custom metadata carries an id or
	// hash value that disagrees with the local record.
	SyncStateMetadataMismatch SyncState = "METADATA_MISMATCH"
)
