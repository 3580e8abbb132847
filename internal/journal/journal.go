// Package journal keeps a local history of sync runs in a bbolt
// database. The journal is observability, not sync state: the mapping
// file and frontmatter stay the only inputs to reconciliation, so a
// deleted journal costs nothing but history.
package journal

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	dirPerm  = fs.FileMode(0o700)
	filePerm = fs.FileMode(0o600)

	openTimeout = 5 * time.Second
)

func runsBucket(spaceKey string) []byte {
	return []byte("runs:" + spaceKey)
}

// Run is one recorded sync run.
type Run struct {
	ID         string    `json:"id"`
	SpaceKey   string    `json:"spaceKey"`
	Operation  string    `json:"operation"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Outcome    string    `json:"outcome"`

	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

// Journal wraps the bbolt database holding run history.
type Journal struct {
	db *bolt.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}

	return &Journal{db: db}, nil
}

// DefaultPath returns ~/.cn/journal.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".cn", "journal.db"), nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record persists one run. A missing ID is assigned. Keys order runs
// chronologically: RFC 3339 start time plus the run id for uniqueness.
func (j *Journal) Record(run Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(runsBucket(run.SpaceKey))
		if err != nil {
			return err
		}

		data, err := json.Marshal(run)
		if err != nil {
			return err
		}

		key := run.StartedAt.UTC().Format(time.RFC3339Nano) + ":" + run.ID

		return b.Put([]byte(key), data)
	})
}

// Recent returns up to n runs for a space, most recent first.
func (j *Journal) Recent(spaceKey string, n int) ([]Run, error) {
	var runs []Run

	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket(spaceKey))
		if b == nil {
			return nil
		}

		c := b.Cursor()

		for k, v := c.Last(); k != nil && len(runs) < n; k, v = c.Prev() {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}

			runs = append(runs, run)
		}

		return nil
	})

	return runs, err
}
