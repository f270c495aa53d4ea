package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	enabled, err := strconv.ParseBool(os.Getenv(testModeEnv))
	testModeFlag.Store(err == nil && enabled)
}

// InTestMode reports whether binaries should skip connecting to Postgres,
// Redis or the ERP API.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads ODYSSEY_TEST_MODE after environment changes.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
