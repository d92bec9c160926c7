// Package testing flips the process into test mode so entry points linked
// into test binaries skip their runtime startup.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"

	"github.com/odyssey-erp/bizledger/internal/app"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv(app.TestModeEnv, "1")
		app.RefreshTestMode()
		if os.Getenv("JWT_SECRET") == "" {
			_ = os.Setenv("JWT_SECRET", "test-secret-test-secret-test-secret")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain ensures test mode before running the package tests.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
