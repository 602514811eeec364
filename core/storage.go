package core

// storage.go – the pluggable state-store backends: an in-memory
// implementation for development, and a second backend on
// github.com/syndtr/goleveldb, the same durable key-value library
// go-ethereum and klaytn both depend on, for the on-disk case.

import (
	"bytes"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// StateStore persists snapshots; the WAL remains the source of truth
// for everything since the last snapshot.
type StateStore interface {
	SaveSnapshot(snap *Snapshot) error
	LoadLatestSnapshot() (*Snapshot, error)
	LoadSnapshotAt(height uint64) (*Snapshot, error)
	Close() error
}

// KV is the narrow key/value contract both backends below implement;
// it exists so a future component (account key indices, routing
// caches) can share a backend without depending on StateStore's
// snapshot-specific methods.
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	PrefixIterate(prefix []byte, fn func(key, value []byte) error) error
}

// MemoryKV is an in-memory KV store, the default for tests and
// single-process development.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	return v, ok, nil
}

func (m *MemoryKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemoryKV) PrefixIterate(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		m.mu.RLock()
		v := m.data[k]
		m.mu.RUnlock()
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// LevelDBKV is the durable backend for `XLN_STORAGE_TYPE=leveldb`.
type LevelDBKV struct {
	db *leveldb.DB
}

func OpenLevelDBKV(path string) (*LevelDBKV, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, &RecoveryFailureError{Cause: err}
	}
	return &LevelDBKV{db: db}, nil
}

func (l *LevelDBKV) Get(key []byte) ([]byte, bool, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (l *LevelDBKV) Put(key, value []byte) error    { return l.db.Put(key, value, nil) }
func (l *LevelDBKV) Delete(key []byte) error         { return l.db.Delete(key, nil) }

func (l *LevelDBKV) PrefixIterate(prefix []byte, fn func(key, value []byte) error) error {
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		if err := fn(append([]byte(nil), it.Key()...), append([]byte(nil), it.Value()...)); err != nil {
			return err
		}
	}
	return it.Error()
}

func (l *LevelDBKV) Close() error { return l.db.Close() }

// snapshotKeyPrefix namespaces snapshot blobs within the shared KV
// keyspace so a single backend instance can host both state and
// snapshot history.
const snapshotKeyPrefix = "snapshot/"

// kvStateStore adapts a KV backend into StateStore by keying snapshot
// blobs by height under snapshotKeyPrefix.
type kvStateStore struct {
	kv KV
}

func NewMemoryStateStore() StateStore { return &kvStateStore{kv: NewMemoryKV()} }

func NewLevelDBStateStore(path string) (StateStore, error) {
	kv, err := OpenLevelDBKV(path)
	if err != nil {
		return nil, err
	}
	return &kvStateStore{kv: kv}, nil
}

func (s *kvStateStore) SaveSnapshot(snap *Snapshot) error {
	enc, err := snap.Encode()
	if err != nil {
		return err
	}
	return s.kv.Put(snapshotKey(snap.Height), enc)
}

func (s *kvStateStore) LoadLatestSnapshot() (*Snapshot, error) {
	var latest *Snapshot
	err := s.kv.PrefixIterate([]byte(snapshotKeyPrefix), func(key, value []byte) error {
		snap, derr := DecodeSnapshot(value)
		if derr != nil {
			return derr
		}
		if latest == nil || snap.Height > latest.Height {
			latest = snap
		}
		return nil
	})
	if err != nil {
		return nil, &RecoveryFailureError{Cause: err}
	}
	return latest, nil
}

func (s *kvStateStore) LoadSnapshotAt(height uint64) (*Snapshot, error) {
	v, ok, err := s.kv.Get(snapshotKey(height))
	if err != nil {
		return nil, &RecoveryFailureError{Cause: err}
	}
	if !ok {
		return nil, ErrUnknownReplica // reused: "no snapshot at this height"
	}
	return DecodeSnapshot(v)
}

func (s *kvStateStore) Close() error {
	if closer, ok := s.kv.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func snapshotKey(height uint64) []byte {
	var h [8]byte
	for i := range h {
		h[7-i] = byte(height >> (8 * i))
	}
	return append([]byte(snapshotKeyPrefix), h[:]...)
}
