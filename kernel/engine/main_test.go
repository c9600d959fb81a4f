package engine

import (
	"testing"

	"go.uber.org/goleak"
)

// the store drivers pull in glog, whose flush daemon lives for the process
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"))
}
