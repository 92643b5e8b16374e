package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Field is a single issue field. Fields are kept as an ordered list rather
// than a map: the tracker never finalized a fixed schema and insertion order
// is the display order.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Fields is an open, order-preserving field mapping.
type Fields []Field

// Get returns the value of the named field.
func (f Fields) Get(name string) (string, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

// Set replaces the named field in place, or appends it.
func (f Fields) Set(name, value string) Fields {
	for i, field := range f {
		if field.Name == name {
			f[i].Value = value
			return f
		}
	}
	return append(f, Field{Name: name, Value: value})
}

// Fingerprint hashes the field names and values in order. Two records with
// the same fields in the same order produce the same fingerprint, so a
// restore can detect no-op updates.
func (f Fields) Fingerprint() string {
	h := sha256.New()
	for _, field := range f {
		h.Write([]byte(field.Name))
		h.Write([]byte{0})
		h.Write([]byte(field.Value))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

// AttachmentRef points at attachment bytes stored once per content hash in
// the bundle blob store. RemoteID and ContentURL are transport-side handles
// used during extraction and never serialized into the archive.
type AttachmentRef struct {
	ContentHash string `json:"content_hash"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Author      string `json:"author,omitempty"`
	Created     string `json:"created,omitempty"`

	RemoteID   string `json:"-"`
	ContentURL string `json:"-"`
}

// CommentRecord is owned exclusively by its parent IssueRecord. Comments are
// immutable once created on a target, so restore only ever appends them.
type CommentRecord struct {
	SourceID    string          `json:"source_id"`
	Author      string          `json:"author"`
	Body        string          `json:"body"`
	CreatedAt   time.Time       `json:"created_at"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// IssueRecord is one exported issue. SourceID is stable for the life of the
// archive; Comments are chronological and their order is preserved exactly
// on restore. CreatedAt/UpdatedAt are advisory metadata only.
type IssueRecord struct {
	SourceID    string          `json:"source_id"`
	Project     string          `json:"project"`
	Fields      Fields          `json:"fields"`
	Comments    []CommentRecord `json:"comments,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AttachmentRefs returns the issue-level refs followed by the comment-level
// refs in comment order.
func (r *IssueRecord) AttachmentRefs() []AttachmentRef {
	refs := make([]AttachmentRef, 0, len(r.Attachments))
	refs = append(refs, r.Attachments...)
	for _, c := range r.Comments {
		refs = append(refs, c.Attachments...)
	}
	return refs
}

// Project is the tracker-side project definition carried in each bundle so a
// restore can recreate a missing project on the target.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ProjectBundle is the per-project unit of the archive: the project
// definition, its issues, and a blob store keyed by content hash.
type ProjectBundle struct {
	Project Project
	Seq     int
	Issues  []*IssueRecord
	Blobs   map[string][]byte
}

// HashBytes returns the content hash used for blob addressing.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
