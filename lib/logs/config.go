package logs

import (
	"fmt"

	"github.com/spf13/viper"
	log "github.com/xuperchain/log15"

	"github.com/xuperchain/xkernel/lib/utils"
)

// LogConfig is the log config of the kernel
type LogConfig struct {
	Module string `yaml:"module,omitempty"`
	// empty disables file output
	Filepath string `yaml:"filepath,omitempty"`
	Filename string `yaml:"filename,omitempty"`
	// logfmt or json
	Fmt     string `yaml:"fmt,omitempty"`
	Console bool   `yaml:"console,omitempty"`
	// debug, trace, info, warn, error
	Level string `yaml:"level,omitempty"`
	Async bool   `yaml:"async,omitempty"`
	// 日志分割周期（单位：分钟）
	RotateInterval int `yaml:"rotateinterval,omitempty"`
	// 日志保留时长（单位：小时）
	RotateBackups int `yaml:"rotatebackups,omitempty"`
}

// LoadLogConf reads cfgFile over the defaults and checks the result.
func LoadLogConf(cfgFile string) (*LogConfig, error) {
	cfg := GetDefLogConf()
	if err := cfg.loadConf(cfgFile); err != nil {
		return nil, fmt.Errorf("load log config failed.err:%s", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid log config.path:%s,err:%s", cfgFile, err)
	}
	return cfg, nil
}

func GetDefLogConf() *LogConfig {
	return &LogConfig{
		Module:   "xkernel",
		Filepath: "",
		Filename: "xkernel",
		Fmt:      "logfmt",
		Console:  true,
		Level:    "info",
		Async:    false,
		// rotate every 60 minutes
		RotateInterval: 60,
		// keep old log files for 7 days
		RotateBackups: 168,
	}
}

func (t *LogConfig) loadConf(cfgFile string) error {
	if cfgFile == "" || !utils.FileIsExist(cfgFile) {
		return fmt.Errorf("config file set error.path:%s", cfgFile)
	}

	viperObj := viper.New()
	viperObj.SetConfigFile(cfgFile)
	err := viperObj.ReadInConfig()
	if err != nil {
		return fmt.Errorf("read config failed.path:%s,err:%v", cfgFile, err)
	}

	if err = viperObj.Unmarshal(t); err != nil {
		return fmt.Errorf("unmatshal config failed.path:%s,err:%v", cfgFile, err)
	}

	return nil
}

func (t *LogConfig) validate() error {
	switch t.Fmt {
	case "logfmt", "json":
	default:
		return fmt.Errorf("unknown fmt %q", t.Fmt)
	}
	if _, err := log.LvlFromString(t.Level); err != nil {
		return fmt.Errorf("unknown level %q", t.Level)
	}
	// rotation needs both knobs or neither
	if (t.RotateInterval > 0) != (t.RotateBackups > 0) {
		return fmt.Errorf("rotateinterval %d and rotatebackups %d must be set together",
			t.RotateInterval, t.RotateBackups)
	}
	return nil
}
