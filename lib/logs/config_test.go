package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuperchain/xkernel/lib/utils"
)

func TestLoadLogConf(t *testing.T) {
	cfg, err := LoadLogConf(getConfFile())
	if err != nil {
		t.Fatalf("load log config failed.err:%v", err)
	}
	if cfg.Fmt != "json" || cfg.Console || cfg.Level != "debug" {
		t.Errorf("unexpected config:%+v", cfg)
	}
	if cfg.RotateInterval != 60 {
		t.Errorf("default rotate interval lost:%d", cfg.RotateInterval)
	}
}

func TestLoadLogConfInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"fmt", "fmt: xml\n"},
		{"level", "level: loud\n"},
		{"rotation", "rotateinterval: 0\n"},
	}
	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(file, []byte(tt.yaml), 0o644))
			_, err := LoadLogConf(file)
			assert.Error(t, err)
		})
	}
	_, err := LoadLogConf(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func TestGetLogFitter(t *testing.T) {
	lg, err := GetLogFitter(getConfFile())
	require.NoError(t, err)
	assert.NotEmpty(t, lg.GetLogId())
	lg.Info("discarded", "console", false)
}

func TestOpenLogBadLevel(t *testing.T) {
	cfg := GetDefLogConf()
	cfg.Level = "loud"
	if _, err := OpenLog(cfg); err == nil {
		t.Fatal("expected level error")
	}
}

func getConfFile() string {
	dir := utils.GetCurFileDir()
	return filepath.Join(dir, "conf/log.yaml")
}
