package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("SITEPRO_TEST_MODE") == "" {
			_ = os.Setenv("SITEPRO_TEST_MODE", "1")
		}
	})
}
