package lock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"
)

var ErrLocked = errors.New("another instance is already running")

// File is an exclusive on-disk marker. Its presence means an instance is
// live; Release removes it.
type File struct {
	path string
	once sync.Once
	err  error
}

// Acquire creates the marker at path and fails with ErrLocked when it already
// exists.
func Acquire(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: lock file %s exists", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	_, werr := fmt.Fprintf(f, "running pid=%d started=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", multierr.Combine(werr, cerr))
	}
	return &File{path: path}, nil
}

func (l *File) Path() string {
	return l.path
}

// Release removes the marker. It is safe to call more than once.
func (l *File) Release() error {
	l.once.Do(func() {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.err = err
		}
	})
	return l.err
}
