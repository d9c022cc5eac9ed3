package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_CreatesFixedSubpaths(t *testing.T) {
	root := t.TempDir()
	ws, err := Acquire(filepath.Join(root, "build"))
	require.NoError(t, err)

	for _, sub := range subdirs {
		assert.DirExists(t, ws.Path(sub))
	}
	assert.Equal(t, ws.Path(SubdirChroot), ws.Chroot())
	assert.Equal(t, ws.Path(SubdirState), ws.State())
}

func TestAcquire_RefusesDirtyWorkspace(t *testing.T) {
	root := t.TempDir()
	ws, err := Acquire(root)
	require.NoError(t, err)

	require.NoError(t, ws.MarkDirty(assertionError{}))
	assert.True(t, ws.IsDirty())

	_, err = Acquire(root)
	assert.Error(t, err)
}

func TestRelease_MarksDirtyWhenMountsRemain(t *testing.T) {
	root := t.TempDir()
	ws, err := Acquire(root)
	require.NoError(t, err)

	err = ws.Release(func() bool { return false })
	assert.Error(t, err)
	assert.True(t, ws.IsDirty())
}

func TestRelease_ClearsCleanly(t *testing.T) {
	root := t.TempDir()
	ws, err := Acquire(root)
	require.NoError(t, err)

	err = ws.Release(func() bool { return true })
	assert.NoError(t, err)
	assert.False(t, ws.IsDirty())
}

type assertionError struct{}

func (assertionError) Error() string { return "simulated unmount failure" }
