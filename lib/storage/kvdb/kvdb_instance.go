package kvdb

import (
	"sync"

	"github.com/pkg/errors"
)

// KVParameter structure for kv instance parameters
type KVParameter struct {
	DBPath                string
	KVEngineType          string
	MemCacheSize          int
	FileHandlersCacheSize int
	// InMemory keeps the whole database in memory, DBPath is ignored.
	InMemory bool
}

const (
	KVEngineTypeLDB    = "leveldb"
	KVEngineTypeBadger = "badger"
)

var (
	ErrNotFound      = errors.New("kvdb: key not found")
	ErrUnknownEngine = errors.New("kvdb: unknown engine type")
)

var (
	servsMu  sync.RWMutex
	services = make(map[string]NewStorageFunc)
)

type NewStorageFunc func(*KVParameter) (Database, error)

func Register(name string, f NewStorageFunc) {
	servsMu.Lock()
	defer servsMu.Unlock()

	if f == nil {
		panic("storage: Register new func is nil")
	}
	if _, dup := services[name]; dup {
		panic("storage: Register called twice for func " + name)
	}
	services[name] = f
}

// Engines returns the registered engine names.
func Engines() []string {
	servsMu.RLock()
	defer servsMu.RUnlock()

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	return names
}

func CreateKVInstance(kvParam *KVParameter) (Database, error) {
	servsMu.RLock()
	f, ok := services[kvParam.KVEngineType]
	servsMu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrUnknownEngine, "engine=%s", kvParam.KVEngineType)
	}
	instance, err := f(kvParam)
	if err != nil {
		return nil, errors.Wrapf(err, "create kv instance failed.engine=%s", kvParam.KVEngineType)
	}
	return instance, nil
}

// GetDBPath return the value of DBPath
func (param *KVParameter) GetDBPath() string {
	return param.DBPath
}

// GetKVEngineType return the value of KVEngineType
func (param *KVParameter) GetKVEngineType() string {
	return param.KVEngineType
}

// GetMemCacheSize return the value of MemCacheSize
func (param *KVParameter) GetMemCacheSize() int {
	return param.MemCacheSize
}

// GetFileHandlersCacheSize return the value of FileHandlersCacheSize
func (param *KVParameter) GetFileHandlersCacheSize() int {
	return param.FileHandlersCacheSize
}
