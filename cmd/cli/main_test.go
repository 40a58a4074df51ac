package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/dapgrid/internal/app"
)

func TestRun_StartupFailure(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// A manifest with a syntax error makes namespace initialization fail.
	invalidHCL := `
		symbol "com.example.Broken" {
			type = "payment.PaymentRequestInfo"
		// Missing closing brace here
	`
	tempDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tempDir, "broken.hcl"), []byte(invalidHCL), 0600)
	require.NoError(t, err, "failed to set up test file")

	args := []string{"--contract", app.RepoPath("contracts", "request.hcl"), tempDir}
	out := &bytes.Buffer{}

	// --- Act ---
	runErr := run(context.Background(), out, args)

	// --- Assert ---
	require.Error(t, runErr, "run() should have returned an error for a broken manifest")
	errStr := runErr.Error()
	require.True(t, strings.Contains(errStr, "application startup failed"), "The error message should indicate startup failed.")
	require.True(t, strings.Contains(errStr, "broken.hcl"), "The error message should name the offending manifest.")
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	args := []string{
		"--contract", app.RepoPath("contracts", "request.hcl"),
		"--listen", "127.0.0.1:0",
		"--shutdown-timeout", "2s",
		app.RepoPath("models"),
	}
	out := &app.SafeBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, out, args) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Server starting")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	args := []string{"-h"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, args)

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// Providing an unknown flag will cause cli.Parse to return an error.
	args := []string{"--this-is-not-a-valid-flag"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, args)

	// --- Assert ---
	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}
