package trap

import (
	"bytes"
	"io"
	"testing"

	"github.com/joeycumines/go-asanrt/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct{ buf *bytes.Buffer }

func (c captureLogger) Logf(diag.Level, string, ...any) {}
func (c captureLogger) Writer() io.Writer               { return c.buf }
func (c captureLogger) IsEnabled(diag.Level) bool        { return true }

// withCapturedDiag installs a capturing logger for the duration of the
// test and returns the buffer it writes to.
func withCapturedDiag(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	diag.SetLogger(captureLogger{buf})
	t.Cleanup(func() { diag.SetLogger(nil) })
	return buf
}

func TestDumpReportWritesRegisters(t *testing.T) {
	buf := withCapturedDiag(t)

	rep := Report{
		Signal: "SIGTRAP",
		SP:     0x1000,
		PC:     0x2000,
		PState: 0x20000000,
		Fault:  0x3000,
		BRKImm: 2,
	}
	dumpReport(rep)

	out := buf.String()
	assert.Contains(t, out, "pc : 0x0000000000002000")
	assert.Contains(t, out, "brk immediate: 2")
	assert.Contains(t, out, "backtrace:")
}

func TestAddReporterNotified(t *testing.T) {
	var got Report
	AddReporter(func(r Report) { got = r })
	notifyReporters(Report{Signal: "test-signal"})
	require.Equal(t, "test-signal", got.Signal)
}
