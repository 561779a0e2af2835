// Package guard switches the process into test mode when imported by a test
// binary, so code paths that start servers or dial Redis stay inert.
package guard

import (
	"os"
	"sync"
)

// EnvKey is the variable read by app.InTestMode.
const EnvKey = "WEBPRICE_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvKey) == "" {
			_ = os.Setenv(EnvKey, "1")
		}
	})
}
