// Package guard switches the binaries into test mode when imported, so tests
// may call main without dialing Postgres or Redis.
package guard

import (
	"os"
	"sync"

	"github.com/miazigoo/RepireCRM/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
	})
}
