package utils

import (
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tmthrgd/go-hex"
)

// FileIsExist reports whether the named file or directory exists.
func FileIsExist(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// GenLogId returns a random log id without dashes.
func GenLogId() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Get call method by runtime.Caller
func GetFuncCall(callDepth int) (string, string) {
	pc, file, line, ok := runtime.Caller(callDepth)
	if !ok {
		return "???:0", "???"
	}

	f := runtime.FuncForPC(pc)
	_, function := path.Split(f.Name())
	_, filename := path.Split(file)

	fline := filename + ":" + strconv.Itoa(line)
	return fline, function
}

// 获取当前源文件目录
func GetCurFileDir() string {
	_, filename, _, _ := runtime.Caller(1)
	return path.Dir(filename)
}

// Print byte slice data as hex string
func F(b []byte) string {
	return hex.EncodeToString(b)
}

// TruncHex prints at most n leading bytes of b as hex.
func TruncHex(b []byte, n int) string {
	if len(b) <= n {
		return F(b)
	}
	return F(b[:n]) + ".."
}
