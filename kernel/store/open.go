package store

import (
	"github.com/xuperchain/xkernel/kernel/common/xconfig"
	"github.com/xuperchain/xkernel/lib/storage/kvdb"

	// register kv engines
	_ "github.com/xuperchain/xkernel/lib/storage/kvdb/badger"
	_ "github.com/xuperchain/xkernel/lib/storage/kvdb/leveldb"
)

const EngineMemory = "memory"

// Open builds the substate database described by conf.
func Open(conf *xconfig.StoreConf) (SubstateDatabase, error) {
	if conf.Engine == "" || conf.Engine == EngineMemory {
		return NewMemDatabase(), nil
	}
	db, err := kvdb.CreateKVInstance(&kvdb.KVParameter{
		DBPath:                conf.Path,
		KVEngineType:          conf.Engine,
		MemCacheSize:          int(conf.MemCache >> 20),
		FileHandlersCacheSize: conf.FileHandlers,
		InMemory:              conf.InMemory,
	})
	if err != nil {
		return nil, err
	}
	return NewKVDatabase(db, conf.Engine, conf.Compress), nil
}
