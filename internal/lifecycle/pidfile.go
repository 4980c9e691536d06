package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// acquirePIDFile opens the PID file, takes an exclusive flock on it and
// writes the daemon's PID. Caller holds the manager lock.
//
// The flock, not the file content, is the single-instance guard: the
// lock dies with the process, so a PID file left over from a crash is
// simply re-locked and overwritten.
func (m *Manager) acquirePIDFile() error {
	path := m.PIDFilePath()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, pidFileMode)
	if err != nil {
		return fmt.Errorf("opening PID file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			other := readOtherPID(f)
			f.Close() //nolint:errcheck // Lock acquisition failed, nothing to release
			if other > 0 {
				return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, other)
			}
			return ErrAlreadyRunning
		}
		f.Close() //nolint:errcheck // Lock acquisition failed, nothing to release
		return fmt.Errorf("locking PID file: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close() //nolint:errcheck // Releases the flock too
		return fmt.Errorf("truncating PID file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close() //nolint:errcheck // Releases the flock too
		return fmt.Errorf("writing PID file: %w", err)
	}

	m.pidFile = f
	return nil
}
