package leveldb

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/xuperchain/xkernel/lib/storage/kvdb"
)

func init() {
	kvdb.Register(kvdb.KVEngineTypeLDB, NewKVDBInstance)
}

// LDBDatabase define data structure of storage
type LDBDatabase struct {
	fn string
	db *leveldb.DB
}

// NewKVDBInstance opens a leveldb instance
func NewKVDBInstance(param *kvdb.KVParameter) (kvdb.Database, error) {
	ldb := &LDBDatabase{}
	if err := ldb.Open(param); err != nil {
		return nil, err
	}
	return ldb, nil
}

// Open opens an instance of LDB with parameters (ldb path and other options)
func (ldb *LDBDatabase) Open(param *kvdb.KVParameter) error {
	cache := param.GetMemCacheSize()
	if cache < 16 {
		cache = 16
	}
	fds := param.GetFileHandlersCacheSize()
	if fds < 16 {
		fds = 16
	}
	options := &opt.Options{
		OpenFilesCacheCapacity: fds,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB, // Two of these are used internally
		Filter:                 filter.NewBloomFilter(10),
	}

	var (
		db  *leveldb.DB
		err error
	)
	if param.InMemory {
		db, err = leveldb.Open(storage.NewMemStorage(), options)
	} else {
		db, err = leveldb.OpenFile(param.GetDBPath(), options)
	}
	if _, corrupted := err.(*lerrors.ErrCorrupted); corrupted {
		return errors.Wrapf(err, "leveldb corrupted.path=%s", param.GetDBPath())
	}
	if err != nil {
		return errors.Wrapf(err, "open leveldb failed.path=%s", param.GetDBPath())
	}
	ldb.fn = param.GetDBPath()
	ldb.db = db
	return nil
}

// Path returns the path to the database directory.
func (ldb *LDBDatabase) Path() string {
	return ldb.fn
}

// Put puts the given key / value to the queue
func (ldb *LDBDatabase) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Has if the given key exists
func (ldb *LDBDatabase) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

// Get returns the given key if it's present.
func (ldb *LDBDatabase) Get(key []byte) ([]byte, error) {
	dat, err := ldb.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, kvdb.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dat, nil
}

// Delete deletes the key from the queue and database
func (ldb *LDBDatabase) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Close close database instance
func (ldb *LDBDatabase) Close() error {
	return ldb.db.Close()
}

// NewIteratorWithRange returns an iterator over [start, limit)
func (ldb *LDBDatabase) NewIteratorWithRange(start []byte, limit []byte) kvdb.Iterator {
	return ldb.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
}

// NewIteratorWithPrefix returns an iterator over keys with the prefix
func (ldb *LDBDatabase) NewIteratorWithPrefix(prefix []byte) kvdb.Iterator {
	return ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
}

// NewBatch returns a write batch
func (ldb *LDBDatabase) NewBatch() kvdb.Batch {
	return &LdbBatch{db: ldb.db, b: new(leveldb.Batch)}
}

// LdbBatch define batch data structure
type LdbBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

// Put put data into batch
func (b *LdbBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(value)
	return nil
}

// Delete delete data from batch
func (b *LdbBatch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

// Write writes the batch atomically
func (b *LdbBatch) Write() error {
	return b.db.Write(b.b, nil)
}

// ValueSize return value size of batch
func (b *LdbBatch) ValueSize() int {
	return b.size
}

// Reset reset batch
func (b *LdbBatch) Reset() {
	b.b.Reset()
	b.size = 0
}
