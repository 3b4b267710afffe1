package state

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	"git.home.luguber.info/inful/pkgbuild/internal/logfields"
)

// lockRetryDelay is how often a waiter polls a lock file held by another
// process.
const lockRetryDelay = 50 * time.Millisecond

// Locker grants exclusive permission to build a package. At most one holder
// exists per PackageID at any time. A Locker created with NewFileLocker also
// excludes holders in other processes that share the lock directory.
type Locker struct {
	mu    sync.Mutex
	locks map[descriptor.PackageID]chan struct{}
	dir   string
}

// NewLocker creates an in-process Locker with no locks held.
func NewLocker() *Locker {
	return &Locker{locks: make(map[descriptor.PackageID]chan struct{})}
}

// NewFileLocker creates a Locker that additionally holds an advisory file
// lock under dir for every package it locks.
func NewFileLocker(dir string) *Locker {
	l := NewLocker()
	l.dir = dir
	return l
}

// Lock blocks until the lock for id is obtained or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, id descriptor.PackageID) (func(), error) {
	ch, err := l.lockLocal(ctx, id)
	if err != nil {
		return nil, err
	}
	release := l.releaser(id, ch, nil)
	if l.dir == "" {
		return release, nil
	}

	fl, err := l.lockFile(ctx, id)
	if err != nil {
		release()
		return nil, err
	}
	return l.releaser(id, ch, fl), nil
}

func (l *Locker) lockLocal(ctx context.Context, id descriptor.PackageID) (chan struct{}, error) {
	for {
		l.mu.Lock()
		held, ok := l.locks[id]
		if !ok {
			ch := make(chan struct{})
			l.locks[id] = ch
			l.mu.Unlock()
			return ch, nil
		}
		l.mu.Unlock()

		slog.Debug("Waiting for package build lock", logfields.Package(id.String()))
		select {
		case <-held:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Locker) lockFile(ctx context.Context, id descriptor.PackageID) (*flock.Flock, error) {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(l.dir, id.Key()+".lock")
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if ok {
		return fl, nil
	}

	slog.Info("Waiting for another process building package",
		logfields.Package(id.String()), logfields.Path(path))
	ok, err = fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, ctx.Err()
	}
	return fl, nil
}

func (l *Locker) releaser(id descriptor.PackageID, ch chan struct{}, fl *flock.Flock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if fl != nil {
				if err := fl.Unlock(); err != nil {
					slog.Warn("Failed to release package lock file",
						logfields.Package(id.String()), logfields.Path(fl.Path()), logfields.Error(err))
				}
			}
			l.mu.Lock()
			delete(l.locks, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
