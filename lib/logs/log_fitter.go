package logs

import (
	"fmt"
	"os"
	"sync"

	"github.com/xuperchain/xkernel/lib/utils"
)

// Reserve common key
const (
	CommFieldLogId = "log_id"
	CommFieldPid   = "pid"
	CommFieldCall  = "call"
)

const (
	DefaultCallDepth = 4
)

// 底层日志库约束接口
type LogDriver interface {
	Error(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
}

// Logger wraps a driver with common fields. Kernel components log through it.
type Logger interface {
	GetLogId() string
	SetCommField(key string, value interface{})
	SetInfoField(key string, value interface{})
	// Fork returns a logger sharing the driver and common fields with a new log id.
	Fork(logId string) Logger
	Error(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
}

// Logger Fitter
type LogFitter struct {
	logger     LogDriver
	logId      string
	pid        int
	lock       sync.RWMutex
	commFields []interface{}
	infoFields []interface{}
	callDepth  int
}

func NewLogger(logger LogDriver, logId string) (*LogFitter, error) {
	if logger == nil {
		return nil, fmt.Errorf("new logger param error")
	}
	if logId == "" {
		logId = utils.GenLogId()
	}

	lf := &LogFitter{
		logger:    logger,
		logId:     logId,
		pid:       os.Getpid(),
		callDepth: DefaultCallDepth,
	}
	return lf, nil
}

func (t *LogFitter) GetLogId() string {
	return t.logId
}

func (t *LogFitter) Fork(logId string) Logger {
	lf, _ := NewLogger(t.logger, logId)
	lf.commFields = append(lf.commFields, t.getCommField()...)
	return lf
}

func (t *LogFitter) SetCommField(key string, value interface{}) {
	if key == "" || value == nil {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	t.commFields = append(t.commFields, key, value)
}

func (t *LogFitter) SetInfoField(key string, value interface{}) {
	if key == "" || value == nil {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	t.infoFields = append(t.infoFields, key, value)
}

func (t *LogFitter) Error(msg string, ctx ...interface{}) {
	t.logger.Error(msg, t.fmtLogger(false, ctx...)...)
}

func (t *LogFitter) Warn(msg string, ctx ...interface{}) {
	t.logger.Warn(msg, t.fmtLogger(false, ctx...)...)
}

// Info also flushes the accumulated info fields.
func (t *LogFitter) Info(msg string, ctx ...interface{}) {
	t.logger.Info(msg, t.fmtLogger(true, ctx...)...)
}

func (t *LogFitter) Trace(msg string, ctx ...interface{}) {
	t.logger.Trace(msg, t.fmtLogger(false, ctx...)...)
}

func (t *LogFitter) Debug(msg string, ctx ...interface{}) {
	t.logger.Debug(msg, t.fmtLogger(false, ctx...)...)
}

func (t *LogFitter) getCommField() []interface{} {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return append([]interface{}(nil), t.commFields...)
}

func (t *LogFitter) takeInfoField() []interface{} {
	t.lock.Lock()
	defer t.lock.Unlock()

	fields := t.infoFields
	t.infoFields = nil
	return fields
}

func (t *LogFitter) genBaseField() []interface{} {
	fileLine, _ := utils.GetFuncCall(t.callDepth)

	// 保持log_id是第一个写入，方便替换
	return []interface{}{
		CommFieldLogId, t.logId,
		CommFieldCall, fileLine,
		CommFieldPid, t.pid,
	}
}

func (t *LogFitter) fmtLogger(withInfo bool, ctx ...interface{}) []interface{} {
	if len(ctx)%2 != 0 {
		last := ctx[len(ctx)-1]
		ctx = ctx[:len(ctx)-1]
		ctx = append(ctx, "unknow", last)
	}

	// Ensure consistent output sequence
	comCtx := t.genBaseField()
	// 如果设置了log_id，用设置的log_id替换公共字段
	if len(ctx) > 1 && fmt.Sprintf("%v", ctx[0]) == CommFieldLogId {
		comCtx[1] = ctx[1]
		ctx = ctx[2:]
	}
	comCtx = append(comCtx, t.getCommField()...)
	if withInfo {
		comCtx = append(comCtx, t.takeInfoField()...)
	}
	return append(comCtx, ctx...)
}
