package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/dapgrid/internal/config"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// RepoPath returns an absolute path under the repository root, so tests in
// any package can point at the shipped models and contracts.
func RepoPath(elem ...string) string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "..", "..")
	return filepath.Join(append([]string{root}, elem...)...)
}

// TestConfig returns a valid configuration using the shipped models and
// contract.
func TestConfig() config.Config {
	cfg := config.Default()
	cfg.ModulesPaths = []string{RepoPath("models")}
	cfg.ContractPath = RepoPath("contracts", "request.hcl")
	cfg.ListenAddr = "127.0.0.1:0"
	return cfg
}

// SetupAppTest creates a new app instance for system testing. The app is
// closed when the test ends.
func SetupAppTest(t *testing.T, cfg config.Config, opts ...Option) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	cfg.LogLevel = "debug"
	testApp, err := NewApp(context.Background(), logBuffer, cfg, opts...)
	require.NoError(t, err, logBuffer.String())

	t.Cleanup(func() {
		_ = testApp.Close(context.Background())
		if os.Getenv("DAPGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
