package xconfig

import (
	"fmt"
	"path/filepath"
	"reflect"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/xuperchain/xkernel/lib/utils"
)

// ByteSize is a size read from human readable config values like "64KiB".
type ByteSize int64

type KernelConf struct {
	// frames deeper than this are refused before push
	MaxCallDepth int `yaml:"maxCallDepth,omitempty"`
	// ceiling of node ids allocated by one transaction
	MaxNodeIds           uint32   `yaml:"maxNodeIds,omitempty"`
	MaxSubstateKeySize   ByteSize `yaml:"maxSubstateKeySize,omitempty"`
	MaxSubstateValueSize ByteSize `yaml:"maxSubstateValueSize,omitempty"`
	// read cache entries of the track
	TrackCacheSize int         `yaml:"trackCacheSize,omitempty"`
	Costing        CostingConf `yaml:"costing,omitempty"`
	Store          StoreConf   `yaml:"store,omitempty"`
	MetricSwitch   bool        `yaml:"metricSwitch,omitempty"`
	// log config file, relative to the kernel config file. Empty keeps the
	// logger handed to the executor.
	LogConf string `yaml:"logConf,omitempty"`
}

type CostingConf struct {
	CostUnitLimit uint32 `yaml:"costUnitLimit,omitempty"`
	// cost units usable before the fee is locked
	SystemLoan     uint32 `yaml:"systemLoan,omitempty"`
	CostUnitPrice  uint64 `yaml:"costUnitPrice,omitempty"`
	InvokeCost     uint32 `yaml:"invokeCost,omitempty"`
	CreateNodeCost uint32 `yaml:"createNodeCost,omitempty"`
	LockCost       uint32 `yaml:"lockCost,omitempty"`
	// per byte read or written
	ByteCost uint32 `yaml:"byteCost,omitempty"`
}

type StoreConf struct {
	// memory, leveldb or badger
	Engine       string   `yaml:"engine,omitempty"`
	Path         string   `yaml:"path,omitempty"`
	InMemory     bool     `yaml:"inMemory,omitempty"`
	MemCache     ByteSize `yaml:"memCache,omitempty"`
	FileHandlers int      `yaml:"fileHandlers,omitempty"`
	Compress     bool     `yaml:"compress,omitempty"`
}

func LoadKernelConf(cfgFile string) (*KernelConf, error) {
	cfg := GetDefKernelConf()
	err := cfg.loadConf(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load kernel config failed.err:%s", err)
	}
	if cfg.LogConf != "" && !filepath.IsAbs(cfg.LogConf) {
		cfg.LogConf = filepath.Join(filepath.Dir(cfgFile), cfg.LogConf)
	}
	return cfg, nil
}

func GetDefKernelConf() *KernelConf {
	return &KernelConf{
		MaxCallDepth:         8,
		MaxNodeIds:           1 << 20,
		MaxSubstateKeySize:   1024,
		MaxSubstateValueSize: 1 << 20,
		TrackCacheSize:       4096,
		Costing: CostingConf{
			CostUnitLimit:  100000000,
			SystemLoan:     10000,
			CostUnitPrice:  1,
			InvokeCost:     100,
			CreateNodeCost: 50,
			LockCost:       10,
			ByteCost:       1,
		},
		Store: StoreConf{
			Engine:       "memory",
			InMemory:     true,
			MemCache:     64 << 20,
			FileHandlers: 512,
		},
		MetricSwitch: false,
	}
}

func (t *KernelConf) loadConf(cfgFile string) error {
	if cfgFile == "" || !utils.FileIsExist(cfgFile) {
		return fmt.Errorf("config file set error.path:%s", cfgFile)
	}

	viperObj := viper.New()
	viperObj.SetConfigFile(cfgFile)
	err := viperObj.ReadInConfig()
	if err != nil {
		return fmt.Errorf("read config failed.path:%s,err:%v", cfgFile, err)
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		byteSizeHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err = viperObj.Unmarshal(t, hook); err != nil {
		return fmt.Errorf("unmatshal config failed.path:%s,err:%v", cfgFile, err)
	}

	return t.validate()
}

func (t *KernelConf) validate() error {
	if t.MaxCallDepth <= 0 {
		return fmt.Errorf("maxCallDepth must be positive.got:%d", t.MaxCallDepth)
	}
	if t.Costing.SystemLoan > t.Costing.CostUnitLimit {
		return fmt.Errorf("systemLoan %d exceeds costUnitLimit %d",
			t.Costing.SystemLoan, t.Costing.CostUnitLimit)
	}
	return nil
}

func byteSizeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(ByteSize(0)) || from.Kind() != reflect.String {
		return data, nil
	}
	n, err := units.RAMInBytes(data.(string))
	if err != nil {
		return nil, err
	}
	return ByteSize(n), nil
}
