package xconfig

import (
	"path/filepath"
	"testing"

	"github.com/xuperchain/xkernel/lib/utils"
)

func TestLoadKernelConf(t *testing.T) {
	cfg, err := LoadKernelConf(getConfFile())
	if err != nil {
		t.Fatal(err)
	}

	if cfg.MaxCallDepth != 6 {
		t.Errorf("maxCallDepth=%d", cfg.MaxCallDepth)
	}
	if cfg.MaxSubstateValueSize != 64*1024 {
		t.Errorf("maxSubstateValueSize=%d", cfg.MaxSubstateValueSize)
	}
	if cfg.Store.MemCache != 32<<20 || cfg.Store.Engine != "leveldb" || !cfg.Store.Compress {
		t.Errorf("store=%+v", cfg.Store)
	}
	if cfg.Costing.CostUnitPrice != 2 || cfg.Costing.SystemLoan != 1000 {
		t.Errorf("costing=%+v", cfg.Costing)
	}
	if cfg.LogConf != filepath.Join(utils.GetCurFileDir(), "conf", "log.yaml") {
		t.Errorf("logConf=%s", cfg.LogConf)
	}
	// untouched keys keep defaults
	if cfg.MaxSubstateKeySize != 1024 || cfg.Costing.LockCost != 10 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadKernelConfMissing(t *testing.T) {
	if _, err := LoadKernelConf("not_exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func getConfFile() string {
	dir := utils.GetCurFileDir()
	return filepath.Join(dir, "conf/kernel.yaml")
}
