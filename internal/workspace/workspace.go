// Package workspace implements the Workspace Manager (spec.md §4.2): it
// allocates the root working directory for a build and its fixed subpaths,
// and guarantees any chroot bind mounts under it are torn down before the
// workspace is considered released.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/common"
)

// Fixed subpaths under a workspace root, per spec.md §3.
const (
	SubdirChroot = "chroot"
	SubdirCache  = "cache"
	SubdirISO    = "iso"
	SubdirEFI    = "efi"
	SubdirLive   = "live"
	SubdirState  = "state"
)

var subdirs = []string{SubdirChroot, SubdirCache, SubdirISO, SubdirEFI, SubdirLive, SubdirState}

// dirtyMarker is the sentinel file written when mount teardown fails
// persistently (spec.md §4.2: "marks the workspace dirty and refuses
// further mounts").
const dirtyMarker = ".zforge-dirty"

// Workspace is a directory tree owned exclusively by the builder for the
// duration of a build.
type Workspace struct {
	Root string

	log *logrus.Entry
}

// Acquire creates (or reopens) the workspace rooted at root, ensuring all
// fixed subpaths exist. It refuses to return a dirty workspace.
func Acquire(root string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating workspace root: %v", common.ErrValidation, err)
	}

	ws := &Workspace{
		Root: root,
		log:  logrus.WithField("workspace", root),
	}

	if ws.IsDirty() {
		return nil, fmt.Errorf("%w: workspace %s is marked dirty from a previous unmount failure", common.ErrMountLeak, root)
	}

	for _, sub := range subdirs {
		if err := os.MkdirAll(ws.Path(sub), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", common.ErrValidation, sub, err)
		}
	}

	return ws, nil
}

// Path joins elem onto the workspace root.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Root}, elem...)...)
}

// Chroot returns the chroot/ subpath.
func (w *Workspace) Chroot() string { return w.Path(SubdirChroot) }

// Cache returns the cache/ subpath.
func (w *Workspace) Cache() string { return w.Path(SubdirCache) }

// ISO returns the iso/ subpath.
func (w *Workspace) ISO() string { return w.Path(SubdirISO) }

// EFI returns the efi/ subpath.
func (w *Workspace) EFI() string { return w.Path(SubdirEFI) }

// Live returns the live/ subpath.
func (w *Workspace) Live() string { return w.Path(SubdirLive) }

// State returns the state/ subpath, where the Checkpoint Store lives.
func (w *Workspace) State() string { return w.Path(SubdirState) }

// IsDirty reports whether a previous build left unmounted bind mounts
// behind (spec.md §4.2).
func (w *Workspace) IsDirty() bool {
	_, err := os.Stat(w.Path(dirtyMarker))
	return err == nil
}

// MarkDirty records a persistent unmount failure so future Acquire calls
// refuse to reuse this workspace until an operator intervenes.
func (w *Workspace) MarkDirty(cause error) error {
	w.log.WithError(cause).Error("workspace marked dirty: persistent unmount failure")
	return os.WriteFile(w.Path(dirtyMarker), []byte(cause.Error()+"\n"), 0o644)
}

// Release performs workspace-level teardown. It does not unmount anything
// itself — that is the Chroot Executor's job (internal/chroot) — but it is
// the single place that asserts no mounts remain before considering the
// workspace released. The build command does not call it; only the tests
// do.
func (w *Workspace) Release(mountsClear func() bool) error {
	if mountsClear == nil || mountsClear() {
		return nil
	}
	err := fmt.Errorf("%w: mounts remained under %s at release", common.ErrMountLeak, w.Chroot())
	if markErr := w.MarkDirty(err); markErr != nil {
		w.log.WithError(markErr).Error("failed to write dirty marker")
	}
	return err
}

// Clean destroys the workspace entirely. Callers must ensure no mounts are
// active under it first; Clean itself does not unmount.
func (w *Workspace) Clean() error {
	return os.RemoveAll(w.Root)
}
