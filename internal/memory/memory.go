// Package memory implements a durable, namespaced key/value store with
// per-key TTLs, backed by bbolt. Rules and workflows use it to persist
// small pieces of state (last-run markers, dedupe sets, cooldown timers)
// across restarts.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/atomicobject/vaultweaver/internal/observability"
	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

var rootBucket = []byte("memory")

// Entry is a decoded key/value record, expired entries are never returned.
type Entry struct {
	Namespace string
	Key       string
	Value     []byte
	ExpiresAt time.Time // zero means no expiry
}

// Store is a namespaced, TTL-aware key/value store.
type Store struct {
	db          *bbolt.DB
	sweepStop   chan struct{}
	sweepDone   chan struct{}
	sweepPeriod time.Duration

	metrics *observability.Metrics
}

// SetMetrics wires Prometheus recording into the store. Optional.
func (s *Store) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

func (s *Store) reportSize() {
	if s.metrics == nil {
		return
	}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		s.metrics.MemoryStoreSize.Set(float64(tx.Bucket(rootBucket).Stats().KeyN))
		return nil
	})
}

// defaultSweepInterval matches the documented TTL sweep contract: every 60s.
const defaultSweepInterval = 60 * time.Second

// Open opens (creating if absent) a memory store at dbPath and starts its
// background expiry sweeper at the default interval (60s).
func Open(dbPath string) (*Store, error) {
	return OpenWithSweepInterval(dbPath, defaultSweepInterval)
}

// OpenWithSweepInterval is Open with an explicit expiry-sweep period,
// wired from config.Config.MemorySweepInterval by the engine.
func OpenWithSweepInterval(dbPath string, sweepInterval time.Duration) (*Store, error) {
	if dbPath == "" {
		return nil, vwerr.New("memory.Open", vwerr.CacheWriteError, fmt.Errorf("path is required"))
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, vwerr.New("memory.Open", vwerr.CacheWriteError, err)
	}
	db, err := bbolt.Open(dbPath, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, vwerr.New("memory.Open", vwerr.CacheWriteError, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, vwerr.New("memory.Open", vwerr.CacheWriteError, err)
	}

	s := &Store{db: db, sweepStop: make(chan struct{}), sweepDone: make(chan struct{}), sweepPeriod: sweepInterval}
	go s.sweepLoop()
	return s, nil
}

// Close stops the sweeper and closes the underlying database.
func (s *Store) Close() error {
	close(s.sweepStop)
	<-s.sweepDone
	return s.db.Close()
}

type record struct {
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expiresAt"` // unix nanos, 0 means no expiry
}

func compositeKey(namespace, key string) []byte {
	return []byte(namespace + "\x00" + key)
}

// Put stores value under namespace/key, expiring after ttl (0 means never).
func (s *Store) Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	rec := record{Value: value}
	if ttl > 0 {
		rec.ExpiresAt = time.Now().Add(ttl).UnixNano()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return vwerr.New("memory.Put", vwerr.CacheWriteError, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).Put(compositeKey(namespace, key), data)
	})
	if err != nil {
		return vwerr.New("memory.Put", vwerr.CacheWriteError, err)
	}
	s.reportSize()
	return nil
}

// Get retrieves the value at namespace/key, ok=false if absent or expired
// (an expired entry found on read is evicted immediately).
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var rec record
	var found bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		ck := compositeKey(namespace, key)
		data := b.Get(ck)
		if data == nil {
			return nil
		}
		if jsonErr := json.Unmarshal(data, &rec); jsonErr != nil {
			return jsonErr
		}
		if rec.ExpiresAt != 0 && time.Now().UnixNano() >= rec.ExpiresAt {
			return b.Delete(ck)
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, vwerr.New("memory.Get", vwerr.CacheWriteError, err)
	}
	if !found {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Delete removes namespace/key if present.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).Delete(compositeKey(namespace, key))
	})
	if err != nil {
		return vwerr.New("memory.Delete", vwerr.CacheWriteError, err)
	}
	s.reportSize()
	return nil
}

// List returns all non-expired entries in namespace, keys sorted.
func (s *Store) List(ctx context.Context, namespace string) ([]Entry, error) {
	prefix := []byte(namespace + "\x00")
	var out []Entry
	now := time.Now().UnixNano()
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(rootBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.ExpiresAt != 0 && now >= rec.ExpiresAt {
				continue
			}
			out = append(out, Entry{
				Namespace: namespace,
				Key:       string(k[len(prefix):]),
				Value:     rec.Value,
				ExpiresAt: expiresAtTime(rec.ExpiresAt),
			})
		}
		return nil
	})
	if err != nil {
		return nil, vwerr.New("memory.List", vwerr.CacheWriteError, err)
	}
	return out, nil
}

func expiresAtTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// sweepLoop periodically evicts expired entries so List/size reporting
// stays accurate even for keys nobody reads again.
func (s *Store) sweepLoop() {
	defer close(s.sweepDone)
	t := time.NewTicker(s.sweepPeriod)
	defer t.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-t.C:
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		now := time.Now().UnixNano()
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.ExpiresAt != 0 && now >= rec.ExpiresAt {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Size returns the total number of non-expired entries across all
// namespaces, used by observability's memory-store gauge.
func (s *Store) Size(ctx context.Context) (int, error) {
	count := 0
	now := time.Now().UnixNano()
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).ForEach(func(k, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if rec.ExpiresAt != 0 && now >= rec.ExpiresAt {
				return nil
			}
			count++
			return nil
		})
	})
	if err != nil {
		return 0, vwerr.New("memory.Size", vwerr.CacheWriteError, err)
	}
	return count, nil
}
