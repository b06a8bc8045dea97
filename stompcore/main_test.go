package stompcore

import (
	"testing"

	"go.uber.org/goleak"
)

// ConnectionHandler owns two background goroutines per instance (run,
// readLoop) and HeartBeatMonitor owns its own timer goroutine; this guards
// against a Close() that leaves any of them behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
