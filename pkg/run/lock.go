package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

const (
	// staleLockAfter is how old a lock must be before its holder is checked.
	staleLockAfter = 2 * time.Minute

	lockRetryInterval = 25 * time.Millisecond
	holderFile        = "holder.json"
)

// LockTimeoutError is returned when another run keeps the marker lock past
// the wait bound.
type LockTimeoutError struct {
	Dir    string
	Holder string // run id of the holder, when it could be read
	Err    error
}

func (e *LockTimeoutError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("run lock %s still held by run %s", e.Dir, e.Holder)
	}
	return fmt.Sprintf("run lock %s still held", e.Dir)
}

func (e *LockTimeoutError) Unwrap() error { return e.Err }

// IsLockTimeout reports whether err is a lock acquisition timeout.
func IsLockTimeout(err error) bool {
	var lt *LockTimeoutError
	return errors.As(err, &lt)
}

// lockHolder is recorded inside the lock so waiters can name the run that
// holds it and tell a live holder from a crashed one.
type lockHolder struct {
	RunID string    `json:"runId"`
	PID   int       `json:"pid"`
	Since time.Time `json:"since"`
}

// runLock serializes marker check-and-clear across processes sharing one
// workspace. It is held as a directory: Mkdir either creates it or fails.
type runLock struct {
	dir        string
	runID      string
	staleAfter time.Duration
	now        func() time.Time
}

func newRunLock(dir string, id Identity) *runLock {
	return &runLock{dir: dir, runID: id.RunID, staleAfter: staleLockAfter, now: time.Now}
}

// Do runs fn while holding the lock, waiting at most wait for it.
func (l *runLock) Do(ctx context.Context, wait time.Duration, fn func() error) error {
	if err := l.acquire(ctx, wait); err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(l.dir); err != nil {
			log.Warn("could not release run lock", "dir", l.dir, "error", err)
		}
	}()
	return fn()
}

func (l *runLock) acquire(ctx context.Context, wait time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.dir), 0o755); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(lockRetryInterval), 1)

	for {
		err := os.Mkdir(l.dir, 0o755)
		if err == nil {
			l.record()
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}

		if l.abandoned() {
			holder, _ := l.holder()
			log.Warn("breaking abandoned run lock", "dir", l.dir, "holder", holder.RunID)
			_ = os.RemoveAll(l.dir)
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			holder, _ := l.holder()
			return &LockTimeoutError{Dir: l.dir, Holder: holder.RunID, Err: err}
		}
	}
}

func (l *runLock) record() {
	data, err := json.Marshal(lockHolder{RunID: l.runID, PID: os.Getpid(), Since: l.now().UTC()})
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(l.dir, holderFile), data, 0o644); err != nil {
		log.Debug("could not record run lock holder", "dir", l.dir, "error", err)
	}
}

func (l *runLock) holder() (lockHolder, bool) {
	data, err := os.ReadFile(filepath.Join(l.dir, holderFile)) //#nosec G304 -- lock dir derived from marker path
	if err != nil {
		return lockHolder{}, false
	}
	var h lockHolder
	if json.Unmarshal(data, &h) != nil || h.PID <= 0 {
		return lockHolder{}, false
	}
	return h, true
}

// abandoned reports whether the lock is old and its holder process is gone.
// A lock without readable holder metadata is judged by age alone.
func (l *runLock) abandoned() bool {
	info, err := os.Stat(l.dir)
	if err != nil || l.now().Sub(info.ModTime()) <= l.staleAfter {
		return false
	}
	h, ok := l.holder()
	return !ok || !processAlive(h.PID)
}
