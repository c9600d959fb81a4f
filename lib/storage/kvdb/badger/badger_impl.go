package badger

import (
	"bytes"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/lib/storage/kvdb"
)

func init() {
	kvdb.Register(kvdb.KVEngineTypeBadger, NewKVDBInstance)
}

// BadgerDatabase wraps a badger instance
type BadgerDatabase struct {
	path string
	db   *badgerdb.DB
}

// NewKVDBInstance opens a badger instance
func NewKVDBInstance(param *kvdb.KVParameter) (kvdb.Database, error) {
	bdb := &BadgerDatabase{}
	if err := bdb.Open(param); err != nil {
		return nil, err
	}
	return bdb, nil
}

func (bdb *BadgerDatabase) Open(param *kvdb.KVParameter) error {
	opts := badgerdb.DefaultOptions(param.GetDBPath())
	if param.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	if cache := param.GetMemCacheSize(); cache > 0 {
		opts = opts.WithBlockCacheSize(int64(cache) << 20)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return errors.Wrapf(err, "open badger failed.path=%s", param.GetDBPath())
	}
	bdb.path = param.GetDBPath()
	bdb.db = db
	return nil
}

func (bdb *BadgerDatabase) Put(key []byte, value []byte) error {
	return bdb.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, value)
	})
}

func (bdb *BadgerDatabase) Get(key []byte) ([]byte, error) {
	var value []byte
	err := bdb.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badgerdb.ErrKeyNotFound {
		return nil, kvdb.ErrNotFound
	}
	return value, err
}

func (bdb *BadgerDatabase) Has(key []byte) (bool, error) {
	_, err := bdb.Get(key)
	if err == kvdb.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (bdb *BadgerDatabase) Delete(key []byte) error {
	return bdb.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(key)
	})
}

func (bdb *BadgerDatabase) Close() error {
	return bdb.db.Close()
}

func (bdb *BadgerDatabase) NewBatch() kvdb.Batch {
	return &BadgerBatch{db: bdb.db}
}

func (bdb *BadgerDatabase) NewIteratorWithRange(start []byte, limit []byte) kvdb.Iterator {
	return newIterator(bdb.db, nil, start, limit)
}

func (bdb *BadgerDatabase) NewIteratorWithPrefix(prefix []byte) kvdb.Iterator {
	return newIterator(bdb.db, prefix, prefix, nil)
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// BadgerBatch buffers writes and applies them in one transaction
type BadgerBatch struct {
	db   *badgerdb.DB
	ops  []batchOp
	size int
}

func (b *BadgerBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: key, value: value})
	b.size += len(value)
	return nil
}

func (b *BadgerBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
	b.size += len(key)
	return nil
}

func (b *BadgerBatch) Write() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		for _, op := range b.ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerBatch) ValueSize() int {
	return b.size
}

func (b *BadgerBatch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}

type iterator struct {
	txn     *badgerdb.Txn
	it      *badgerdb.Iterator
	prefix  []byte
	start   []byte
	limit   []byte
	started bool
	key     []byte
	value   []byte
	err     error
}

func newIterator(db *badgerdb.DB, prefix, start, limit []byte) *iterator {
	txn := db.NewTransaction(false)
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = prefix
	return &iterator{
		txn:    txn,
		it:     txn.NewIterator(opts),
		prefix: prefix,
		start:  start,
		limit:  limit,
	}
}

func (i *iterator) Next() bool {
	if i.err != nil {
		return false
	}
	if !i.started {
		i.it.Seek(i.start)
		i.started = true
	} else {
		i.it.Next()
	}
	if !i.it.ValidForPrefix(i.prefix) {
		return false
	}
	item := i.it.Item()
	key := item.KeyCopy(nil)
	if i.limit != nil && bytes.Compare(key, i.limit) >= 0 {
		return false
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		i.err = err
		return false
	}
	i.key, i.value = key, value
	return true
}

func (i *iterator) Key() []byte   { return i.key }
func (i *iterator) Value() []byte { return i.value }
func (i *iterator) Error() error  { return i.err }

func (i *iterator) Release() {
	i.it.Close()
	i.txn.Discard()
}
