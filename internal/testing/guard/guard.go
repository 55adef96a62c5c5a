// Package guard switches the process into test mode on import, so a test
// binary linking a main package never dials Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("FISCAL_TEST_MODE") == "" {
			_ = os.Setenv("FISCAL_TEST_MODE", "1")
		}
	})
}
