//go:build linux && arm64

package trap

import (
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// helperProcessEnv is set in the re-exec'd child so it knows to arm the real
// sigaction handler and raise a genuine SIGTRAP, instead of running the
// ordinary test suite. Mirrors the subprocess-helper idiom SPEC_FULL.md §11
// calls for testing fatal-signal paths deterministically.
const helperProcessEnv = "GO_ASANRT_TRAP_SUBPROCESS_HELPER"

// TestSigtrapSubprocessHelper is not a real test: it only runs when re-exec'd
// by TestRealSigtrapDumpsAndDies, below.
func TestSigtrapSubprocessHelper(t *testing.T) {
	if os.Getenv(helperProcessEnv) != "1" {
		t.Skip("only runs as a re-exec'd subprocess helper")
	}
	require.NoError(t, Install())
	require.NoError(t, unix.Kill(unix.Getpid(), unix.SIGTRAP))
	// Unreached if the handler correctly re-raises SIGSEGV.
	os.Exit(125)
}

// TestRealSigtrapDumpsAndDies re-execs the test binary, has the child install
// the real cgo sigaction(SIGTRAP) handler and raise a genuine SIGTRAP against
// itself, and checks both that the process died the way a memory-safety
// violation is expected to (re-raised SIGSEGV, not a clean exit) and that the
// diagnostic dump reached the child's stderr.
func TestRealSigtrapDumpsAndDies(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=TestSigtrapSubprocessHelper", "-test.v")
	cmd.Env = append(os.Environ(), helperProcessEnv+"=1")
	out, err := cmd.CombinedOutput()

	require.Error(t, err, "expected the subprocess to die from the re-raised SIGSEGV, output:\n%s", out)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.False(t, exitErr.Success())

	assert.True(t, strings.Contains(string(out), "brk immediate"), "missing register dump in output:\n%s", out)
	assert.True(t, strings.Contains(string(out), "backtrace:"), "missing backtrace in output:\n%s", out)
}
