package app

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// TestModeEnv is set by the testing package so binaries linked into test
// runs return before touching Postgres or Redis.
const TestModeEnv = "BIZLEDGER_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(TestModeEnv) == "1")
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}

// SkipStartup logs and reports whether component startup is suppressed.
func SkipStartup(component string) bool {
	if !InTestMode() {
		return false
	}
	slog.Default().Info("test mode detected, skipping startup", slog.String("component", component))
	return true
}
