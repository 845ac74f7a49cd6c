package bulkio

import (
	"fmt"

	goflock "github.com/gofrs/flock"
)

// flock is the cross-process advisory lock guarding a container path,
// taken for the lifetime of a Create/Open session when WithProcessLock is
// enabled.
type flock struct {
	f *goflock.Flock
}

func newFlock(path string) *flock {
	return &flock{f: goflock.New(path + ".lock")}
}

func (l *flock) Lock() error {
	ok, err := l.f.TryLock()
	if err != nil {
		return fmt.Errorf("%w: flock: %v", ErrIOFailure, err)
	}
	if !ok {
		return fmt.Errorf("%w: container already locked by another process", ErrIOFailure)
	}
	return nil
}

func (l *flock) Unlock() error {
	if err := l.f.Unlock(); err != nil {
		return fmt.Errorf("%w: flock unlock: %v", ErrIOFailure, err)
	}
	return nil
}
