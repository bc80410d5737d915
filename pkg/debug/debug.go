// Package debug provides conditional debug logging for treegrid.
//
// Debug logging is enabled by setting the TREEGRID_DEBUG environment variable:
//
//	TREEGRID_DEBUG=1 treegrid --source fs --path .
//
// When enabled, messages go to stderr with timestamps and index mutations are
// followed by a full consistency check. When disabled (default), every
// function here is a no-op.
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// EnvVar is the environment variable that turns debug logging on.
const EnvVar = "TREEGRID_DEBUG"

var (
	enabled atomic.Bool
	logger  = log.New(os.Stderr, "[TREEGRID_DEBUG] ", log.Ltime|log.Lmicroseconds)
)

func init() {
	if os.Getenv(EnvVar) != "" {
		enabled.Store(true)
	}
}

// Enabled returns whether debug logging is enabled.
func Enabled() bool {
	return enabled.Load()
}

// SetEnabled allows programmatic control of debug logging.
func SetEnabled(e bool) {
	enabled.Store(e)
}

// SetOutput redirects debug output. The TUI points it at a file so log lines
// do not tear the alternate screen.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Log writes a debug message if debug logging is enabled.
func Log(format string, args ...any) {
	if !Enabled() {
		return
	}
	logger.Printf(format, args...)
}

// LogTiming writes a timing message if debug logging is enabled.
func LogTiming(name string, d time.Duration) {
	if !Enabled() {
		return
	}
	logger.Printf("%s took %v", name, d)
}

// LogEnterExit logs function entry and exit with timing.
//
//	defer debug.LogEnterExit("Grid.Refresh")()
func LogEnterExit(name string) func() {
	if !Enabled() {
		return func() {}
	}
	logger.Printf("-> %s", name)
	start := time.Now()
	return func() {
		logger.Printf("<- %s (%v)", name, time.Since(start))
	}
}

// AssertNoError logs and panics if err is not nil.
// Only active when debug is enabled.
func AssertNoError(err error, context string) {
	if !Enabled() || err == nil {
		return
	}
	logger.Printf("ASSERTION FAILED: %s: %v", context, err)
	panic(fmt.Sprintf("debug assertion failed: %s: %v", context, err))
}
