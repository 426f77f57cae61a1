package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// TestSecretKey is a throwaway 32-byte key for tests.
const TestSecretKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("POSYNC_TEST_MODE", "1")
		if os.Getenv("SYNC_SECRET_KEY") == "" {
			_ = os.Setenv("SYNC_SECRET_KEY", TestSecretKey)
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
