//go:build windows

package transport

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"spx/internal/spxerr"
	"spx/internal/spxlog"
)

// deviceLock holds a lock file in the system temp directory named after the
// sanitized device path, per spec.md §4.1 (Windows cannot flock a COM port
// device node the way POSIX can flock a tty node).
type deviceLock struct {
	f *os.File
}

const (
	lockPollInterval = 100 * time.Millisecond
	lockPollTimeout  = 10 * time.Second
)

func sanitize(path string) string {
	r := strings.NewReplacer("\\", "_", "/", "_", ":", "_")
	return r.Replace(path)
}

// acquireLock polls for a lock file every 100ms for up to 10s, logging a
// "waiting for device lock" notice (verbose only) if the first attempt is
// contended.
func acquireLock(path string) (*deviceLock, error) {
	lockPath := filepath.Join(os.TempDir(), "spx-"+sanitize(path)+".lock")

	deadline := time.Now().Add(lockPollTimeout)
	logged := false

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			return &deviceLock{f: f}, nil
		}

		if time.Now().After(deadline) {
			return nil, spxerr.Errorf(spxerr.Io, "transport.acquireLock", "device %s is locked by another process", path)
		}

		if !logged {
			spxlog.Debug("waiting for device lock", "path", path)
			logged = true
		}

		time.Sleep(lockPollInterval)
	}
}

// release is unconditional: errors removing the lock file are swallowed.
func (l *deviceLock) release() {
	if l == nil || l.f == nil {
		return
	}
	name := l.f.Name()
	_ = l.f.Close()
	_ = os.Remove(name)
}
