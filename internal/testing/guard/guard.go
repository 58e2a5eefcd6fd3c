// Package guard flips the runtime into test mode on import so tests can
// exercise entrypoint wiring without starting servers.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("FLEETGLASS_TEST_MODE") == "" {
			_ = os.Setenv("FLEETGLASS_TEST_MODE", "1")
		}
	})
}
