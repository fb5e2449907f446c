// Package testing is blank-imported by tests that must not reach real
// infrastructure. It flags test mode and keeps a developer .env or a live
// Gotenberg from leaking into the run.
package testing

import (
	"os"
	"path/filepath"
	"sync"
	stdtesting "testing"
)

var prepare = sync.OnceFunc(func() {
	_ = os.Setenv("ECOLOIMP_TEST_MODE", "1")
	_ = os.Setenv("ENV_FILE", filepath.Join(os.TempDir(), "ecoloimp-test-no-such.env"))
	_ = os.Setenv("GOTENBERG_URL", "")
})

func init() {
	prepare()
}

// TestMain prepares the environment and runs m. Packages call it from their
// own TestMain.
func TestMain(m *stdtesting.M) {
	prepare()
	os.Exit(m.Run())
}
