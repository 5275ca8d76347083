// Package filelock provides scoped exclusive ownership of lock-file
// paths, backed by OS advisory file locks (gofrs/flock).
//
// Locks are reentrant within a process: re-acquiring a held path bumps
// a depth counter instead of deadlocking against our own file
// descriptor. Each Acquire must be paired with a Release. Cross-process
// exclusion is the OS lock's; in-process goroutine exclusion is the
// caller's (the store serializes same-account writers with a mutex).
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Forever blocks indefinitely waiting for the lock.
const Forever time.Duration = -1

// retryDelay is the poll interval for blocking acquisition.
const retryDelay = 25 * time.Millisecond

// ErrTimeout is returned when the lock is still held by another
// process after the wait budget (or immediately for a zero timeout).
var ErrTimeout = errors.New("timed out waiting for file lock")

// LockError wraps a failure to set up or acquire the OS lock, e.g. a
// missing parent directory.
type LockError struct {
	Path string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("locking %s: %v", e.Path, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// The process-wide registry behind reentrancy. OS advisory locks on
// the same path conflict between file descriptors of one process, so
// the depth bookkeeping has to be shared by everyone in the process.
var (
	mu      sync.Mutex
	entries = map[string]*entry{}
)

type entry struct {
	fl    *flock.Flock
	depth int
}

// Guard represents a held lock. Release with defer so the lock is
// dropped on panic unwind as well.
type Guard struct {
	key  string
	once sync.Once
}

// Release drops one level of ownership; the OS lock is released when
// the outermost guard releases. Safe to call more than once.
func (g *Guard) Release() {
	g.once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		e := entries[g.key]
		if e == nil {
			return
		}
		e.depth--
		if e.depth <= 0 {
			_ = e.fl.Unlock()
			delete(entries, g.key)
		}
	})
}

// Acquire takes the advisory lock at path.
//
// A zero timeout fails immediately with ErrTimeout if the lock is held
// elsewhere; a positive timeout blocks up to that duration; Forever
// blocks until the lock is acquired or ctx is cancelled. The parent
// directory must already exist.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Guard, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LockError{Path: path, Err: err}
	}

	if _, err := os.Stat(filepath.Dir(abs)); err != nil {
		return nil, &LockError{Path: abs, Err: err}
	}

	mu.Lock()
	if e, ok := entries[abs]; ok {
		e.depth++
		mu.Unlock()
		return &Guard{key: abs}, nil
	}
	mu.Unlock()

	fl := flock.New(abs)
	locked, err := tryLock(ctx, fl, timeout)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrTimeout, abs)
	}

	mu.Lock()
	defer mu.Unlock()
	if e, ok := entries[abs]; ok {
		// Another goroutine registered the path while we were locking;
		// fold into its entry and drop our descriptor.
		_ = fl.Unlock()
		e.depth++
		return &Guard{key: abs}, nil
	}
	entries[abs] = &entry{fl: fl, depth: 1}
	return &Guard{key: abs}, nil
}

func tryLock(ctx context.Context, fl *flock.Flock, timeout time.Duration) (bool, error) {
	switch {
	case timeout == 0:
		locked, err := fl.TryLock()
		if err != nil {
			return false, &LockError{Path: fl.Path(), Err: err}
		}
		return locked, nil
	case timeout > 0:
		lockCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		locked, err := fl.TryLockContext(lockCtx, retryDelay)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return false, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			return false, &LockError{Path: fl.Path(), Err: err}
		}
		return locked, nil
	default:
		locked, err := fl.TryLockContext(ctx, retryDelay)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			return false, &LockError{Path: fl.Path(), Err: err}
		}
		return locked, nil
	}
}
