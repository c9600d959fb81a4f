package store

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/xuperchain/xkernel/kernel/substate"
	"github.com/xuperchain/xkernel/kernel/types"
	"github.com/xuperchain/xkernel/lib/metrics"
	"github.com/xuperchain/xkernel/lib/storage/kvdb"
)

// KVDatabase stores encoded substates in a kvdb engine keyed by db key.
type KVDatabase struct {
	db       kvdb.Database
	engine   string
	compress bool
}

func NewKVDatabase(db kvdb.Database, engine string, compress bool) *KVDatabase {
	return &KVDatabase{db: db, engine: engine, compress: compress}
}

func (k *KVDatabase) encode(value *substate.IndexedValue) []byte {
	if k.compress {
		return snappy.Encode(nil, value.Bytes())
	}
	return value.Bytes()
}

func (k *KVDatabase) decode(raw []byte) (*substate.IndexedValue, error) {
	if k.compress {
		plain, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, errors.Wrap(types.ErrDecodePayload, err.Error())
		}
		raw = plain
	} else {
		raw = append([]byte(nil), raw...)
	}
	return substate.Decode(raw)
}

func (k *KVDatabase) Get(node types.NodeId, partition types.PartitionNumber, key types.SubstateKey) (*substate.IndexedValue, bool, error) {
	raw, err := k.db.Get(types.EncodeDbKey(node, partition, key))
	if err == kvdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "store get %s", node)
	}
	value, err := k.decode(raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (k *KVDatabase) List(node types.NodeId, partition types.PartitionNumber) ([]substate.Entry, error) {
	it := k.db.NewIteratorWithPrefix(types.PartitionPrefix(node, partition))
	defer it.Release()

	var entries []substate.Entry
	for it.Next() {
		loc, err := types.DecodeDbKey(it.Key())
		if err != nil {
			return nil, err
		}
		value, err := k.decode(it.Value())
		if err != nil {
			return nil, err
		}
		entries = append(entries, substate.Entry{Key: loc.Key, Value: value})
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrapf(err, "store list %s/%d", node, partition)
	}
	return entries, nil
}

func (k *KVDatabase) Commit(updates *StateUpdates) error {
	if updates.Len() == 0 {
		return nil
	}
	batch := k.db.NewBatch()
	for _, u := range updates.Updates() {
		var err error
		if u.IsDelete() {
			err = batch.Delete(u.Location.DbKey())
		} else {
			err = batch.Put(u.Location.DbKey(), k.encode(u.Value))
		}
		if err != nil {
			return errors.Wrapf(err, "store batch %s", u.Location)
		}
	}
	if err := batch.Write(); err != nil {
		return errors.Wrap(err, "store commit")
	}
	metrics.StoreCommitCounter.WithLabelValues(k.engine).Add(float64(updates.Len()))
	return nil
}

func (k *KVDatabase) Close() error {
	return k.db.Close()
}
