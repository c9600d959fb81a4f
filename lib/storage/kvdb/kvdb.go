package kvdb

// Database is the key-value engine underneath the substate store.
type Database interface {
	Put(key []byte, value []byte) error
	// Get returns ErrNotFound for a missing key.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	Close() error
	NewBatch() Batch
	NewIteratorWithRange(start []byte, limit []byte) Iterator
	NewIteratorWithPrefix(prefix []byte) Iterator
}

// Batch is a write batch applied atomically by Write.
type Batch interface {
	ValueSize() int
	Write() error
	Reset()
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Iterator walks keys in ascending byte order. Next must be called before
// the first Key. Key and Value are only valid until the following Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}
