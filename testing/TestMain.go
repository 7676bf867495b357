// Package testing switches the binaries into test mode. Import it for side
// effects from tests that touch cmd wiring or app startup.
package testing

import "os"

const testModeEnv = "TALLY_TEST_MODE"

func init() {
	if os.Getenv(testModeEnv) == "" {
		_ = os.Setenv(testModeEnv, "1")
	}
}
