package snapshot

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/scientistigwe/pipelinecore/pkg/types"
)

var bucketSnapshots = []byte("pipeline_snapshots")

// Snapshot is a point-in-time capture of one pipeline's CPM state,
// enough to inspect (not replay) what the pipeline was doing across a
// process restart. It mirrors cpm.PipelineStatusView's fields rather
// than the full PipelineContext, since GetPipelineStatus is the only
// read surface the CPM exposes.
type Snapshot struct {
	PipelineID   string
	CurrentStage types.Stage
	Status       types.PipelineStatus
	Active       []types.ControlPoint
	History      []types.ControlPoint
	ErrorKind    string
	ErrorMessage string
	CapturedAt   time.Time
}

// Store is the bbolt-backed persistence layer for Snapshots, one JSON
// value per pipeline keyed by pipeline id.
type Store struct {
	db *bolt.DB
}

// Open creates the snapshot bucket (if absent) in db and returns a
// Store over it. db is expected to be the same handle the Staging
// Manager opened, per SPEC_FULL.md §10.8 -- snapshot never opens its
// own database file.
func Open(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save upserts snap under its PipelineID.
func (s *Store) Save(snap Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSnapshots).Put([]byte(snap.PipelineID), data)
	})
}

// Load returns the most recently saved snapshot for pipelineID.
func (s *Store) Load(pipelineID string) (Snapshot, bool, error) {
	var snap Snapshot
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(pipelineID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &snap)
	})
	return snap, found, err
}

// List returns every stored snapshot, in no particular order.
func (s *Store) List() ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			snaps = append(snaps, snap)
			return nil
		})
	})
	return snaps, err
}

// Delete removes pipelineID's snapshot, if any.
func (s *Store) Delete(pipelineID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(pipelineID))
	})
}
