package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "SIGNALBOARD_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

// InTestMode reports whether runtime side effects (servers, pools,
// background workers) should be skipped. The flag is read once from
// SIGNALBOARD_TEST_MODE on first use.
func InTestMode() bool {
	testModeInit.Do(RefreshTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the environment flag, for tests that flip it
// mid-process.
func RefreshTestMode() {
	testMode.Store(os.Getenv(testModeEnv) == "1")
}
