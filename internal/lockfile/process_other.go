//go:build !unix && !windows

package lockfile

// isProcessRunning cannot inspect other processes here; holders are never
// reported.
func isProcessRunning(pid int) bool {
	return false
}
