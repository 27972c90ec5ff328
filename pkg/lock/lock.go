// Package lock provides the advisory cross-process file lock that gates all
// mutations of the Volta home directory. A single lock file supports shared
// (reader) and exclusive (writer) acquisition, and a stale holder whose
// process has exited is broken after a grace period.
package lock

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/logger"
)

// Kind selects the lock mode.
type Kind int

// Lock kinds.
const (
	// Shared allows concurrent readers; taken while probing the inventory.
	Shared Kind = iota
	// Exclusive is required for any mutation under the Volta home.
	Exclusive
)

const (
	retryInterval  = 100 * time.Millisecond
	waitingNotice  = time.Second
	staleGrace     = 30 * time.Second
	lockFilePerms  = 0o644
	waitingMessage = "waiting for other Volta process"
)

// Guard holds an acquired lock until Close is called. Close is safe to call
// more than once; callers should defer it immediately after acquisition so
// the lock is released on every exit path.
type Guard struct {
	fl       *flock.Flock
	released bool
}

// Close releases the lock.
func (g *Guard) Close() {
	if g == nil || g.released {
		return
	}
	g.released = true
	if err := g.fl.Unlock(); err != nil {
		logger.Warnf("failed to release volta lock: %v", err)
	}
}

// Acquire takes the home-wide lock in the given mode, blocking until it is
// available. A "waiting" notice is logged once if acquisition blocks for
// more than a second, and a lock held by a dead process is broken after a
// 30 second grace period.
func Acquire(ctx context.Context, home *layout.Home, kind Kind) (*Guard, error) {
	if err := os.MkdirAll(home.Root(), 0o755); err != nil {
		return nil, errors.NewFileSystemError("could not create Volta home directory", err)
	}

	fl := flock.New(home.LockFile())

	locked, err := tryOnce(fl, kind)
	if err != nil {
		return nil, errors.NewLockContentionError("could not acquire volta lock", err)
	}
	if locked {
		return finishAcquire(fl, home, kind)
	}

	waitStart := time.Now()
	notified := false

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		if !notified && time.Since(waitStart) >= waitingNotice {
			logger.Info(waitingMessage)
			notified = true
		}

		select {
		case <-ctx.Done():
			return nil, errors.NewInterruptedError("interrupted while waiting for volta lock", ctx.Err())
		case <-ticker.C:
		}

		locked, err = tryOnce(fl, kind)
		if err != nil {
			return nil, errors.NewLockContentionError("could not acquire volta lock", err)
		}
		if locked {
			return finishAcquire(fl, home, kind)
		}

		if time.Since(waitStart) >= staleGrace && holderIsDead(home.LockFile()) {
			logger.Warnf("breaking lock abandoned by dead process after %s", staleGrace)
			if err := os.Remove(home.LockFile()); err != nil && !os.IsNotExist(err) {
				return nil, errors.NewLockContentionError("could not break abandoned volta lock", err)
			}
			// Start over on the fresh file so the kernel lock is taken on
			// the new inode, not the unlinked one.
			fl = flock.New(home.LockFile())
			waitStart = time.Now()
		}
	}
}

func tryOnce(fl *flock.Flock, kind Kind) (bool, error) {
	if kind == Shared {
		return fl.TryRLock()
	}
	return fl.TryLock()
}

func finishAcquire(fl *flock.Flock, home *layout.Home, kind Kind) (*Guard, error) {
	if kind == Exclusive {
		// Record the holder so a crashed writer can be identified later.
		pid := []byte(strconv.Itoa(os.Getpid()))
		if err := os.WriteFile(home.LockFile(), pid, lockFilePerms); err != nil {
			_ = fl.Unlock()
			return nil, errors.NewFileSystemError("could not record lock holder", err)
		}
	}
	return &Guard{fl: fl}, nil
}

// holderIsDead reports whether the PID recorded in the lock file refers to
// a process that is no longer alive. An unreadable or empty file is treated
// as live, since a shared holder never records a PID.
func holderIsDead(lockFile string) bool {
	data, err := os.ReadFile(lockFile)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return false
	}

	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return !alive
}

// WithExclusive runs fn while holding the exclusive lock.
func WithExclusive(ctx context.Context, home *layout.Home, fn func() error) error {
	guard, err := Acquire(ctx, home, Exclusive)
	if err != nil {
		return err
	}
	defer guard.Close()
	return fn()
}

// WithShared runs fn while holding the shared lock.
func WithShared(ctx context.Context, home *layout.Home, fn func() error) error {
	guard, err := Acquire(ctx, home, Shared)
	if err != nil {
		return err
	}
	defer guard.Close()
	return fn()
}

// String returns the human name of the lock kind.
func (k Kind) String() string {
	if k == Shared {
		return "shared"
	}
	return "exclusive"
}
