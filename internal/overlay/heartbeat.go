package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// The heartbeat file is the cross-process marker for "this camera's
// overlay is active". Its content is a single floating-point unix
// timestamp; rewriting it is how independent trigger invocations extend
// an already-visible overlay instead of opening a duplicate.

// heartbeatPath returns the heartbeat file location for a camera.
func heartbeatPath(stateDir, cameraID string) string {
	return filepath.Join(stateDir, fmt.Sprintf("overlay_active_%s.lock", cameraID))
}

// writeHeartbeat creates or refreshes a heartbeat file with the current
// time. Refreshes are idempotent, so the optimistic read-then-write
// access pattern across processes is safe: a lost update only shortens
// an extension window.
func writeHeartbeat(path string, now time.Time) error {
	ts := strconv.FormatFloat(float64(now.UnixNano())/1e9, 'f', 6, 64)
	return os.WriteFile(path, []byte(ts), 0o644)
}

// readHeartbeat parses the timestamp stored in a heartbeat file.
func readHeartbeat(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat %s: %w", path, err)
	}
	return time.Unix(0, int64(secs*1e9)), nil
}

// heartbeatExists reports whether a heartbeat file is present.
func heartbeatExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// removeHeartbeat deletes a heartbeat file, ignoring a missing one.
func removeHeartbeat(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
