package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "ECOLOIMP_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	return on
})

// InTestMode reports whether binaries were started by the test harness, in
// which case main returns before dialing PostgreSQL or Redis.
func InTestMode() bool {
	return testMode()
}
