//go:build !windows

package transport

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"spx/internal/spxerr"
	"spx/internal/spxlog"
)

// deviceLock holds a POSIX flock on the serial device node itself.
type deviceLock struct {
	f *os.File
}

const (
	lockPollInterval = 100 * time.Millisecond
	lockPollTimeout  = 10 * time.Second
)

// acquireLock takes an exclusive flock on path, matching the ardnew-softusb
// pack's style of driving raw Linux device-node syscalls directly
// (host/hal/linux) rather than through a higher-level locking library. It
// polls every 100ms for up to 10s on contention, logging a "waiting for
// device lock" notice (verbose only) on the first contended attempt, the
// same behavior as the Windows backend's lock file polling.
func acquireLock(path string) (*deviceLock, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, spxerr.New(spxerr.Io, "transport.acquireLock", err)
	}

	deadline := time.Now().Add(lockPollTimeout)
	logged := false

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &deviceLock{f: f}, nil
		}

		if time.Now().After(deadline) {
			f.Close()
			return nil, spxerr.Errorf(spxerr.Io, "transport.acquireLock", "device %s is locked by another process: %v", path, err)
		}

		if !logged {
			spxlog.Debug("waiting for device lock", "path", path)
			logged = true
		}

		time.Sleep(lockPollInterval)
	}
}

// release is unconditional: any error unlocking or closing is swallowed, as
// the lock is being abandoned regardless.
func (l *deviceLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
}
