package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAnotherInstance reports that a second copy of the app was started.
var ErrAnotherInstance = errors.New("another instance is already running")

// acquireInstanceLock takes the non-blocking single-instance file lock.
func acquireInstanceLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s)", ErrAnotherInstance, path)
	}
	return lock, nil
}
