package interfaces

import "time"

// IssueMapping translates one source issue onto a target instance. The
// fingerprint is the hash of the fields last submitted to the target and
// gates no-op updates.
type IssueMapping struct {
	TargetID    string    `json:"target_id"`
	Fingerprint string    `json:"fingerprint"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IdentityStore is the durable cross-instance id-translation table. It is
// the sole writer of mappings; the restore reconciler only proposes entries.
// Entries are never deleted automatically.
type IdentityStore interface {
	// LockKey serializes access to one (sourceURL, sourceIssueID) pair so
	// two workers can never create two target issues for the same source
	// issue. The returned func releases the lock.
	LockKey(sourceURL, sourceIssueID string) func()

	LookupIssue(sourceURL, sourceIssueID string) (*IssueMapping, error)
	// RecordIssue is an idempotent upsert: at most one target id is kept
	// per key, updates replace.
	RecordIssue(sourceURL, sourceIssueID string, mapping IssueMapping) error

	// LookupComment returns the target comment id, or "" when the comment
	// has not been restored yet.
	LookupComment(sourceURL, commentSourceID string) (string, error)
	RecordComment(sourceURL, commentSourceID, targetCommentID string) error

	HasAttachment(targetIssueID, contentHash string) (bool, error)
	RecordAttachment(targetIssueID, contentHash, filename string) error

	// Snapshot copies the backing database into dir and returns the path.
	Snapshot(dir string) (string, error)
	Close() error
}
