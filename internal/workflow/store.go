package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

var runsBucket = []byte("runs")

// Store persists WorkflowRun records so an in-flight run survives a crash
// and resumes from its last completed step.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if absent) a workflow run store at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, vwerr.New("workflow.OpenStore", vwerr.CacheWriteError, err)
	}
	db, err := bbolt.Open(dbPath, 0o644, nil)
	if err != nil {
		return nil, vwerr.New("workflow.OpenStore", vwerr.CacheWriteError, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, vwerr.New("workflow.OpenStore", vwerr.CacheWriteError, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save persists run, overwriting any prior record with the same ID.
func (s *Store) Save(run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return vwerr.New("workflow.Save", vwerr.CacheWriteError, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).Put([]byte(run.ID), data)
	})
	if err != nil {
		return vwerr.New("workflow.Save", vwerr.CacheWriteError, err)
	}
	return nil
}

// Load retrieves a run by ID.
func (s *Store) Load(runID string) (Run, bool, error) {
	var run Run
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(runsBucket).Get([]byte(runID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return Run{}, false, vwerr.New("workflow.Load", vwerr.CacheWriteError, err)
	}
	return run, found, nil
}

// ListIncomplete returns every run not in a terminal status, used on
// startup to resume in-flight work.
func (s *Store) ListIncomplete() ([]Run, error) {
	var out []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			if r.Status == Pending || r.Status == Running {
				out = append(out, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, vwerr.New("workflow.ListIncomplete", vwerr.CacheWriteError, err)
	}
	return out, nil
}

// List returns every persisted run, most recently updated first.
func (s *Store) List() ([]Run, error) {
	var out []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(k, v []byte) error {
			var r Run
			if err := json.Unmarshal(v, &r); err == nil {
				out = append(out, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, vwerr.New("workflow.List", vwerr.CacheWriteError, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
