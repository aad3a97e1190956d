package storage

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned when a key is absent from the store.
var ErrNotFound = fmt.Errorf("storage: key not found")

// Batch accumulates writes to be applied in a single atomic Write call.
// A batch that is never written leaves the store untouched.
type Batch interface {
	Put(key []byte, value []byte)
}

// Database is a generic interface for a key-value store. The auction state
// manager layers its keyed registries on top of this, so the service can run
// against an in-memory store in tests and LevelDB in production.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewBatch() Batch
	Write(batch Batch) error
	Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

type memBatchEntry struct {
	key   []byte
	value []byte
}

type memBatch struct {
	entries []memBatchEntry
}

func (b *memBatch) Put(key []byte, value []byte) {
	b.entries = append(b.entries, memBatchEntry{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

// NewBatch returns an empty write batch bound to this store.
func (db *MemDB) NewBatch() Batch {
	return &memBatch{}
}

// Write applies the batch under a single lock, so readers never observe a
// partially applied group of writes.
func (db *MemDB) Write(batch Batch) error {
	mb, ok := batch.(*memBatch)
	if !ok {
		return fmt.Errorf("storage: batch %T was not created by this store", batch)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, entry := range mb.entries {
		db.data[string(entry.key)] = append([]byte(nil), entry.value...)
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store backed by goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return value, err
}

// Has reports whether the key exists without fetching the value.
func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

type levelBatch struct {
	batch *leveldb.Batch
}

func (b *levelBatch) Put(key []byte, value []byte) {
	b.batch.Put(key, value)
}

// NewBatch returns an empty write batch bound to this store.
func (ldb *LevelDB) NewBatch() Batch {
	return &levelBatch{batch: new(leveldb.Batch)}
}

// Write commits the batch through LevelDB's atomic batch write.
func (ldb *LevelDB) Write(batch Batch) error {
	lb, ok := batch.(*levelBatch)
	if !ok {
		return fmt.Errorf("storage: batch %T was not created by this store", batch)
	}
	return ldb.db.Write(lb.batch, nil)
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
