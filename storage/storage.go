// Package storage implements §6's persisted-state layout as a small
// key-value abstraction with two backends: an in-memory map for tests and
// single-process deployments, and a github.com/syndtr/goleveldb-backed
// store for anything that needs to survive a restart. Grounded on the
// teacher's tosdb.KeyValueStore shape (tosdb/leveldb/leveldb_test.go's
// dbtest.TestDatabaseSuite harness names Get/Put/Has/Delete/NewBatch as the
// interface's core, and tosdb/memorydb exists purely to back that same
// interface for tests — this package keeps that split).
package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when key is absent.
var ErrNotFound = errors.New("storage: key not found")

// KeyValueStore is the narrow persistence contract every backend satisfies.
type KeyValueStore interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	NewIterator(prefix []byte) Iterator
	Close() error
}

// Iterator walks a key range in lexicographic order. Callers must call
// Release when done.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
}

// MemoryStore is an in-process KeyValueStore backed by a sorted-on-read map,
// the default for tests and single-node deployments that don't need
// durability (§6 notes mempool/pending may be memory-only; this type is
// general enough to back the whole layout the same way).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemoryStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *MemoryStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) NewIterator(prefix []byte) Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == string(prefix)) {
			keys = append(keys, k)
		}
	}
	sortStrings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = m.data[k]
	}
	return &memIterator{keys: keys, values: values, pos: -1}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

type memIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIterator) Key() []byte   { return []byte(it.keys[it.pos]) }
func (it *memIterator) Value() []byte { return it.values[it.pos] }
func (it *memIterator) Release()      {}

// LevelStore is a durable KeyValueStore backed by goleveldb.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (creating if absent) a leveldb database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

// OpenLevelStoreInMemory opens a leveldb instance over an in-memory
// storage.Storage, the shape the teacher's own leveldb_test.go uses to
// exercise the suite without touching disk.
func OpenLevelStoreInMemory() (*LevelStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (l *LevelStore) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *LevelStore) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelStore) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelStore) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelStore) Close() error { return l.db.Close() }

func (l *LevelStore) NewIterator(prefix []byte) Iterator {
	var r *util.Range
	if len(prefix) > 0 {
		r = util.BytesPrefix(prefix)
	}
	return &levelIterator{it: l.db.NewIterator(r, nil)}
}

type levelIterator struct {
	it iterator.Iterator
}

func (it *levelIterator) Next() bool    { return it.it.Next() }
func (it *levelIterator) Key() []byte   { return it.it.Key() }
func (it *levelIterator) Value() []byte { return it.it.Value() }
func (it *levelIterator) Release()      { it.it.Release() }
