package services

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/GiovanniLombardo/Youtrack/internal/common"
)

const (
	progressBucket = "progress"
	orderBucket    = "order"
)

// IssueStatus is the ledger-side terminal status of one issue.
type IssueStatus string

const (
	// StatusDone means the issue is fully flushed into the staging area
	// and must not be re-downloaded on resume.
	StatusDone IssueStatus = "done"
	// StatusFailed means the retry budget was exhausted; the issue is
	// retried on the next run.
	StatusFailed IssueStatus = "failed"
)

type ledgerEntry struct {
	Status   IssueStatus `json:"status"`
	Reason   string      `json:"reason,omitempty"`
	Attempts int         `json:"attempts,omitempty"`
	Updated  time.Time   `json:"updated"`
}

// Ledger is the per-run extraction progress record. It lives inside the
// staging directory, so a different output path always starts clean.
type Ledger struct {
	db *bolt.DB
}

func OpenLedger(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open progress ledger: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(progressBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(orderBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger buckets: %w", err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Status returns the recorded status of issueID, if any.
func (l *Ledger) Status(issueID string) (IssueStatus, bool, error) {
	var entry ledgerEntry
	var found bool

	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(progressBucket)).Get([]byte(issueID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("failed to decode ledger entry for %s: %w", issueID, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return "", false, common.NewStorageError("ledger_read", "ledger read failed").WithCause(err)
	}
	return entry.Status, found, nil
}

func (l *Ledger) put(issueID string, entry ledgerEntry) error {
	entry.Updated = time.Now()
	err := l.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(progressBucket)).Put([]byte(issueID), data)
	})
	if err != nil {
		return common.NewStorageError("ledger_write", "ledger write failed").WithCause(err)
	}
	return nil
}

func (l *Ledger) MarkDone(issueID string) error {
	return l.put(issueID, ledgerEntry{Status: StatusDone})
}

func (l *Ledger) MarkFailed(issueID, reason string, attempts int) error {
	return l.put(issueID, ledgerEntry{Status: StatusFailed, Reason: reason, Attempts: attempts})
}

// ProjectSeq returns the stable 1-based bundle sequence number for project,
// assigning the next free one on first sight. The assignment survives
// interruption so resumed runs keep bundle names deterministic.
func (l *Ledger) ProjectSeq(project string) (int, error) {
	var seq int

	err := l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(orderBucket))
		if data := bucket.Get([]byte(project)); data != nil {
			seq = int(binary.BigEndian.Uint32(data))
			return nil
		}

		seq = bucket.Stats().KeyN + 1
		data := make([]byte, 4)
		binary.BigEndian.PutUint32(data, uint32(seq))
		return bucket.Put([]byte(project), data)
	})
	if err != nil {
		return 0, common.NewStorageError("ledger_write", "ledger sequence assignment failed").WithCause(err)
	}
	return seq, nil
}

// Projects returns the recorded projects in bundle sequence order.
func (l *Ledger) Projects() ([]string, error) {
	type entry struct {
		name string
		seq  int
	}
	var entries []entry

	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(orderBucket)).ForEach(func(k, v []byte) error {
			entries = append(entries, entry{name: string(k), seq: int(binary.BigEndian.Uint32(v))})
			return nil
		})
	})
	if err != nil {
		return nil, common.NewStorageError("ledger_read", "ledger project listing failed").WithCause(err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names, nil
}
