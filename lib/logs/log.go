package logs

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/xuperchain/log15"

	"github.com/xuperchain/xkernel/lib/utils"
)

// LogBufSize define log buffer channel size
const LogBufSize = 102400

// OpenLog create and open log stream using LogConfig
func OpenLog(lc *LogConfig) (LogDriver, error) {
	lvLevel, err := log.LvlFromString(lc.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level error.level=%s", lc.Level)
	}

	lfmt := log.LogfmtFormat()
	switch lc.Fmt {
	case "json":
		lfmt = log.JsonFormat()
	}

	xlog := log.New("module", lc.Module)
	// set lowest level as level limit, this may improve performance
	xlog.SetLevelLimit(lvLevel)

	var handlers []log.Handler
	if lc.Filepath != "" {
		if err := os.MkdirAll(lc.Filepath, os.ModePerm); err != nil {
			return nil, errors.Wrapf(err, "create log dir failed.path=%s", lc.Filepath)
		}
		infoFile := lc.Filepath + "/" + lc.Filename + ".log"
		wfFile := lc.Filepath + "/" + lc.Filename + ".log.wf"

		// RotateFileHandler only valid if `RotateInterval` and `RotateBackups` greater than 0
		var nmHandler, wfHandler log.Handler
		if lc.RotateInterval > 0 && lc.RotateBackups > 0 {
			nmHandler = log.Must.RotateFileHandler(
				infoFile, lfmt, lc.RotateInterval, lc.RotateBackups)
			wfHandler = log.Must.RotateFileHandler(
				wfFile, lfmt, lc.RotateInterval, lc.RotateBackups)
		} else {
			nmHandler = log.Must.FileHandler(infoFile, lfmt)
			wfHandler = log.Must.FileHandler(wfFile, lfmt)
		}
		if lc.Async {
			nmHandler = log.BufferedHandler(LogBufSize, nmHandler)
			wfHandler = log.BufferedHandler(LogBufSize, wfHandler)
		}
		// levels below Error go to the common log, Warn and above to wf
		handlers = append(handlers,
			log.BoundLvlFilterHandler(lvLevel, log.LvlError, nmHandler),
			log.LvlFilterHandler(log.LvlWarn, wfHandler))
	}
	if lc.Console {
		handlers = append(handlers, log.StreamHandler(os.Stderr, lfmt))
	}

	if len(handlers) == 0 {
		xlog.SetHandler(log.DiscardHandler())
	} else {
		xlog.SetHandler(log.SyncHandler(log.MultiHandler(handlers...)))
	}
	return xlog, nil
}

// DiscardDriver returns a driver that drops every record.
func DiscardDriver() LogDriver {
	xlog := log.New("module", "discard")
	xlog.SetHandler(log.DiscardHandler())
	return xlog
}

// NewDiscardLogger is used by tests and by components built without a logger.
func NewDiscardLogger() Logger {
	lf, _ := NewLogger(DiscardDriver(), "")
	return lf
}

// GetLogFitter opens a driver from cfgFile and wraps it with a fresh log id.
func GetLogFitter(cfgFile string) (Logger, error) {
	logCfg, err := LoadLogConf(cfgFile)
	if err != nil {
		return nil, err
	}
	driver, err := OpenLog(logCfg)
	if err != nil {
		return nil, errors.Wrap(err, "open log fail")
	}
	return NewLogger(driver, utils.GenLogId())
}
