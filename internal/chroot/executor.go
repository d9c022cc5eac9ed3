// Package chroot implements the Chroot Executor (spec.md §4.3): chroot
// sessions with a fixed bind-mount order, guaranteed reverse-order teardown,
// and at most one active session per Executor. Separate Executors do not
// coordinate with each other. Generalizes the teacher's
// internal/boot/netns.go shell-out mount lifecycle into direct
// golang.org/x/sys/unix syscalls, which give the lazy-unmount and precise
// flag control this contract needs.
package chroot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/subprocess"
)

// bindMount is one entry of the fixed bind-mount contract (spec.md §4.3).
type bindMount struct {
	source string
	target string
}

var unmountRetryDelay = 500 * time.Millisecond
var unmountRetries = 5

// Executor serializes the chroot sessions entered through it against a
// single root path.
type Executor struct {
	root string

	mu     sync.Mutex
	active bool
}

// New returns an Executor rooted at the chroot directory (normally
// workspace.Chroot()).
func New(root string) *Executor {
	return &Executor{root: root}
}

// Session is a scoped acquisition of the chroot with its kernel-filesystem
// bind mounts active.
type Session struct {
	ex      *Executor
	mounts  []bindMount
	log     *logrus.Entry
	cacheOn bool
}

// Enter bind-mounts the kernel filesystems (and the package cache directory
// when cacheDir is non-empty) into the chroot in the fixed order from
// spec.md §4.3, and returns a Session whose Run method executes commands
// inside it. Only one Session per Executor may be active; a second Enter
// call on the same Executor returns ErrChrootBusy. Another Executor, even
// one for the same root, does not see this state.
func (e *Executor) Enter(cacheDir string) (*Session, error) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return nil, common.ErrChrootBusy
	}
	e.active = true
	e.mu.Unlock()

	log := logrus.WithField("chroot", e.root)

	mounts := []bindMount{
		{source: "/proc", target: filepath.Join(e.root, "proc")},
		{source: "/sys", target: filepath.Join(e.root, "sys")},
		{source: "/dev", target: filepath.Join(e.root, "dev")},
		{source: "/dev/pts", target: filepath.Join(e.root, "dev", "pts")},
		{source: "/run", target: filepath.Join(e.root, "run")},
	}
	if cacheDir != "" {
		mounts = append(mounts, bindMount{source: cacheDir, target: filepath.Join(e.root, "var", "cache", "apt", "archives")})
	}

	sess := &Session{ex: e, log: log, cacheOn: cacheDir != ""}

	for _, m := range mounts {
		if err := os.MkdirAll(m.target, 0o755); err != nil {
			sess.unwindLocked()
			return nil, fmt.Errorf("%w: creating mount target %s: %v", common.ErrValidation, m.target, err)
		}
		if err := unix.Mount(m.source, m.target, "", unix.MS_BIND, ""); err != nil {
			log.WithError(err).WithField("target", m.target).Error("bind mount failed")
			sess.unwindLocked()
			return nil, fmt.Errorf("bind-mounting %s onto %s: %w", m.source, m.target, err)
		}
		sess.mounts = append(sess.mounts, m)
	}

	return sess, nil
}

// Run executes argv inside the chroot via `chroot <root> argv...`, streaming
// output through internal/subprocess.Run.
func (s *Session) Run(ctx context.Context, argv []string, env []string, stdin io.Reader) (*subprocess.Result, error) {
	full := append([]string{"chroot", s.ex.root}, argv...)
	return subprocess.Run(ctx, full, subprocess.Options{Env: env, Stdin: stdin, Log: s.log})
}

// Release tears down every bind mount in reverse order, guaranteeing no
// mount is left behind on any exit path. Release tolerates "already
// unmounted" conditions but escalates to lazy unmount and ultimately
// returns ErrMountLeak if a mount cannot be cleared.
func (s *Session) Release() error {
	s.ex.mu.Lock()
	defer s.ex.mu.Unlock()
	defer func() { s.ex.active = false }()

	return s.unwind()
}

func (s *Session) unwindLocked() {
	_ = s.unwind()
	s.ex.active = false
}

func (s *Session) unwind() error {
	var failed []string
	for i := len(s.mounts) - 1; i >= 0; i-- {
		target := s.mounts[i].target
		if err := unmountWithRetry(target, s.log); err != nil {
			failed = append(failed, target)
		}
	}
	s.mounts = nil

	if len(failed) > 0 {
		return fmt.Errorf("%w: %v", common.ErrMountLeak, failed)
	}
	return nil
}

func unmountWithRetry(target string, log *logrus.Entry) error {
	err := unix.Unmount(target, 0)
	if err == nil || errors.Is(err, unix.EINVAL) {
		// EINVAL: already unmounted, tolerated per spec.md §4.2.
		return nil
	}

	for attempt := 0; attempt < unmountRetries; attempt++ {
		log.WithError(err).WithField("target", target).Warn("unmount failed, retrying with lazy detach")
		time.Sleep(unmountRetryDelay)
		err = unix.Unmount(target, unix.MNT_DETACH)
		if err == nil || errors.Is(err, unix.EINVAL) {
			return nil
		}
	}
	return err
}
