package staging

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/scientistigwe/pipelinecore/pkg/types"
)

var (
	bucketEntries  = []byte("staging_entries")
	bucketPayloads = []byte("staging_payloads")
)

// Store is the bbolt-backed persistence layer for staging entries and
// their payloads, one bucket each, keyed by stage id.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if necessary) the bbolt database under
// dataDir and ensures both buckets exist.
func OpenStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "staging.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("staging: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEntries, bucketPayloads} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying bbolt handle so collaborators that want a
// bucket in the same file -- pkg/snapshot, notably -- don't need to
// open a second database.
func (s *Store) DB() *bolt.DB {
	return s.db
}

func (s *Store) putEntry(entry types.StagingEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEntries).Put([]byte(entry.StageID), data)
	})
}

func (s *Store) getEntry(stageID string) (types.StagingEntry, bool, error) {
	var entry types.StagingEntry
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(stageID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	return entry, found, err
}

func (s *Store) deleteEntry(stageID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(stageID))
	})
}

func (s *Store) listEntries() ([]types.StagingEntry, error) {
	var entries []types.StagingEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var entry types.StagingEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

func (s *Store) putPayload(stageID string, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPayloads).Put([]byte(stageID), payload)
	})
}

func (s *Store) getPayload(stageID string) ([]byte, bool, error) {
	var payload []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPayloads).Get([]byte(stageID))
		if data == nil {
			return nil
		}
		found = true
		payload = append([]byte(nil), data...)
		return nil
	})
	return payload, found, err
}

func (s *Store) deletePayload(stageID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPayloads).Delete([]byte(stageID))
	})
}
