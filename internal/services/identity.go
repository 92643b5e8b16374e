package services

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
	"github.com/GiovanniLombardo/Youtrack/internal/interfaces"
)

const (
	issuesBucket      = "issues"
	commentsBucket    = "comments"
	attachmentsBucket = "attachments"

	identityLockStripes = 64
)

// IdentityStore persists (source instance, source id) -> target id mappings
// in a bbolt database scoped to one target instance. A target may receive
// restores from many sources; the source URL is part of every key.
type IdentityStore struct {
	db    *bolt.DB
	locks [identityLockStripes]sync.Mutex
}

// IdentityDBPath derives the per-target database path under dir.
func IdentityDBPath(dir, targetURL string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(targetURL, "https://"), "http://")
	host = strings.TrimRight(host, "/")
	host = strings.NewReplacer("/", "_", ":", "_").Replace(host)
	return filepath.Join(dir, fmt.Sprintf("identity_%s.db", host))
}

func OpenIdentityStore(path string) (*IdentityStore, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open identity database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{issuesBucket, commentsBucket, attachmentsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &IdentityStore{db: db}, nil
}

func (s *IdentityStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func identityKey(sourceURL, sourceID string) []byte {
	return []byte(fmt.Sprintf("%s|%s", strings.TrimRight(sourceURL, "/"), sourceID))
}

// LockKey serializes writers of the same (sourceURL, sourceID) pair. Locks
// are striped, so distinct keys mostly proceed independently.
func (s *IdentityStore) LockKey(sourceURL, sourceID string) func() {
	h := fnv.New32a()
	h.Write(identityKey(sourceURL, sourceID))
	m := &s.locks[h.Sum32()%identityLockStripes]
	m.Lock()
	return m.Unlock
}

func (s *IdentityStore) LookupIssue(sourceURL, sourceID string) (*interfaces.IssueMapping, error) {
	var mapping *interfaces.IssueMapping

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(issuesBucket)).Get(identityKey(sourceURL, sourceID))
		if data == nil {
			return nil
		}
		var m interfaces.IssueMapping
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to decode mapping for %s: %w", sourceID, err)
		}
		mapping = &m
		return nil
	})
	if err != nil {
		return nil, common.NewStorageError("identity_read", "identity lookup failed").WithCause(err)
	}
	return mapping, nil
}

// RecordIssue upserts the mapping: updates replace, never append.
func (s *IdentityStore) RecordIssue(sourceURL, sourceID string, mapping interfaces.IssueMapping) error {
	if mapping.UpdatedAt.IsZero() {
		mapping.UpdatedAt = time.Now()
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(mapping)
		if err != nil {
			return fmt.Errorf("failed to marshal mapping for %s: %w", sourceID, err)
		}
		return tx.Bucket([]byte(issuesBucket)).Put(identityKey(sourceURL, sourceID), data)
	})
	if err != nil {
		return common.NewStorageError("identity_write", "identity record failed").WithCause(err)
	}
	return nil
}

func (s *IdentityStore) LookupComment(sourceURL, commentSourceID string) (string, error) {
	var targetID string

	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket([]byte(commentsBucket)).Get(identityKey(sourceURL, commentSourceID)); data != nil {
			targetID = string(data)
		}
		return nil
	})
	if err != nil {
		return "", common.NewStorageError("identity_read", "comment lookup failed").WithCause(err)
	}
	return targetID, nil
}

func (s *IdentityStore) RecordComment(sourceURL, commentSourceID, targetCommentID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(commentsBucket)).Put(identityKey(sourceURL, commentSourceID), []byte(targetCommentID))
	})
	if err != nil {
		return common.NewStorageError("identity_write", "comment record failed").WithCause(err)
	}
	return nil
}

func (s *IdentityStore) HasAttachment(targetIssueID, contentHash string) (bool, error) {
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(attachmentsBucket)).Get(identityKey(targetIssueID, contentHash)) != nil
		return nil
	})
	if err != nil {
		return false, common.NewStorageError("identity_read", "attachment lookup failed").WithCause(err)
	}
	return found, nil
}

func (s *IdentityStore) RecordAttachment(targetIssueID, contentHash, filename string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(attachmentsBucket)).Put(identityKey(targetIssueID, contentHash), []byte(filename))
	})
	if err != nil {
		return common.NewStorageError("identity_write", "attachment record failed").WithCause(err)
	}
	return nil
}

// Snapshot copies the database file into dir for manual pruning/inspection.
func (s *IdentityStore) Snapshot(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", common.NewStorageError("snapshot", "failed to create snapshot directory").WithCause(err)
	}

	timestamp := time.Now().Format("20060102_150405")
	snapshotPath := filepath.Join(dir, fmt.Sprintf("identity_%s.db", timestamp))

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(snapshotPath, 0600)
	})
	if err != nil {
		return "", common.NewStorageError("snapshot", "failed to snapshot identity database").WithCause(err)
	}
	return snapshotPath, nil
}
