package app

import (
	"os"
	"strconv"
)

// TestModeEnv switches the commands into a no-op mode so their packages can
// be built and executed by `go test ./...` without Postgres or Redis.
const TestModeEnv = "REPAIRCRM_TEST_MODE"

// InTestMode reports whether REPAIRCRM_TEST_MODE holds a true value.
func InTestMode() bool {
	v, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && v
}
