package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("SHIPYARD_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	eventLog    = ""
	logMutex    sync.Mutex

	stderr io.Writer = os.Stderr
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

func Logf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Fprintf(stderr, format, args...)
	}
}

// Output returns w, or io.Discard in quiet mode. Progress lines are written
// through it.
func Output(w io.Writer) io.Writer {
	if quietMode {
		return io.Discard
	}
	return w
}

// SetEventLog sets the file LogEvent appends to. An empty path disables
// event logging.
func SetEventLog(path string) {
	logMutex.Lock()
	defer logMutex.Unlock()
	eventLog = path
}

// LogEvent appends one line to the event log.
// Format: TIMESTAMP|EVENT_CODE|SUBJECT|DETAILS
func LogEvent(eventCode, subject, details string) {
	logMutex.Lock()
	defer logMutex.Unlock()

	if eventLog == "" {
		return
	}
	if subject == "" {
		subject = "none"
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s\n", timestamp, eventCode, subject, details)

	_ = os.MkdirAll(filepath.Dir(eventLog), 0755)

	file, err := os.OpenFile(eventLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Silent fail - don't interrupt a release if logging fails
		return
	}
	defer file.Close()

	_, _ = file.WriteString(entry)
}
