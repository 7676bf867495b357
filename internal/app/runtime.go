package app

import (
	"os"
	"strconv"
)

const testModeEnv = "TALLY_TEST_MODE"

// InTestMode reports whether TALLY_TEST_MODE is set to a true value. The
// binaries return before dialing Postgres or Redis when it is.
func InTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	return on
}
