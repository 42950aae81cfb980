// Package lockfile guards a project against concurrent release runs.
package lockfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/shipyard-cli/shipyard/internal/debug"
)

const (
	// lockDirName holds one lock file per project under the CLI home.
	lockDirName = "locks"

	// pollInterval is how often Acquire retries a held lock.
	pollInterval = 100 * time.Millisecond
)

// ErrLocked means another run holds the lock for this project.
var ErrLocked = errors.New("another release is already running for this project")

// RunLock is an exclusive, process-wide lock keyed by project directory.
// The lock file lives in the CLI home rather than the working tree so it
// never shows up in git status.
type RunLock struct {
	flock      *flock.Flock
	projectDir string
}

// PathFor returns the lock file used for projectDir.
func PathFor(cliHome, projectDir string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(projectDir)))
	return filepath.Join(cliHome, lockDirName, hex.EncodeToString(sum[:])[:16]+".lock")
}

// New returns an unacquired lock for projectDir.
func New(cliHome, projectDir string) *RunLock {
	return &RunLock{
		flock:      flock.New(PathFor(cliHome, projectDir)),
		projectDir: projectDir,
	}
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.flock.Path()
}

// TryAcquire takes the lock without waiting. It returns ErrLocked when
// another process holds it.
func (l *RunLock) TryAcquire() error {
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0700); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return l.lockedError()
	}
	l.writeHolder()
	debug.Logf("acquired run lock: %s\n", l.Path())
	return nil
}

// Acquire waits up to timeout for the lock.
func (l *RunLock) Acquire(ctx context.Context, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0700); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := l.flock.TryLockContext(ctx, pollInterval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return l.lockedError()
	}
	l.writeHolder()
	debug.Logf("acquired run lock: %s\n", l.Path())
	return nil
}

// Release releases the lock.
// Safe to call multiple times (idempotent).
func (l *RunLock) Release() error {
	if l.flock == nil {
		return nil
	}
	if l.flock.Locked() {
		if err := os.Remove(l.holderPath()); err != nil && !os.IsNotExist(err) {
			debug.Logf("removing %s: %v\n", l.holderPath(), err)
		}
	}
	debug.Logf("releasing run lock: %s\n", l.Path())
	return l.flock.Unlock()
}

// holderPath records the PID of the lock holder next to the lock file.
func (l *RunLock) holderPath() string {
	return strings.TrimSuffix(l.Path(), ".lock") + ".pid"
}

func (l *RunLock) writeHolder() {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(l.holderPath(), []byte(pid+"\n"), 0600); err != nil {
		debug.Logf("writing %s: %v\n", l.holderPath(), err)
	}
}

// Holder returns the PID of the process holding the lock, or 0 when it is
// unknown or that process has exited.
func (l *RunLock) Holder() int {
	data, err := os.ReadFile(l.holderPath()) // #nosec G304 - path under the CLI home
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || !isProcessRunning(pid) {
		return 0
	}
	return pid
}

func (l *RunLock) lockedError() error {
	if pid := l.Holder(); pid > 0 {
		return fmt.Errorf("%w (%s, pid %d)", ErrLocked, l.projectDir, pid)
	}
	return fmt.Errorf("%w (%s)", ErrLocked, l.projectDir)
}
