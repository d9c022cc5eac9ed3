package module

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/workspace"
)

func newSecurityTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Acquire(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestSecurityHardening_NoneProfileIsNoOp(t *testing.T) {
	ws := newSecurityTestWorkspace(t)
	plan := &buildplan.BuildPlan{SecurityHardeningProfile: "none"}

	res, err := SecurityHardening{}.Execute(context.Background(), plan, ws, nil)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusSuccess, res.Status)

	entries, err := os.ReadDir(filepath.Join(ws.Chroot(), "etc"))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestSecurityHardening_UnknownProfileFails(t *testing.T) {
	ws := newSecurityTestWorkspace(t)
	plan := &buildplan.BuildPlan{SecurityHardeningProfile: "paranoid"}

	_, err := SecurityHardening{}.Execute(context.Background(), plan, ws, nil)
	require.Error(t, err)
}

func TestSetDefaultUmask_ReplacesExistingValue(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "login.defs"), []byte("UMASK           022\n"), 0o644))

	require.NoError(t, setDefaultUmask(root))

	data, err := os.ReadFile(filepath.Join(root, "etc", "login.defs"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "UMASK           027")
	assert.NotContains(t, string(data), "UMASK           022")
}

func TestSetDefaultUmask_MissingFileIsTolerated(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, setDefaultUmask(root))
}

func TestWriteSysctlDropIn_WritesAllKeysSorted(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, writeSysctlDropIn(root, "90-baseline-hardening.conf", baselineSysctl))

	data, err := os.ReadFile(filepath.Join(root, "etc", "sysctl.d", "90-baseline-hardening.conf"))
	require.NoError(t, err)
	for k, v := range baselineSysctl {
		assert.Contains(t, string(data), k+" = "+v)
	}
}

func TestWriteModuleBlacklist_ListsAllModules(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, writeModuleBlacklist(root))

	data, err := os.ReadFile(filepath.Join(root, "etc", "modprobe.d", "90-hardening-blacklist.conf"))
	require.NoError(t, err)
	for _, m := range blacklistedModules {
		assert.Contains(t, string(data), "blacklist "+m)
	}
}

func TestWriteSSHHardening_PrefersConfigDDropIn(t *testing.T) {
	root := t.TempDir()
	dropInDir := filepath.Join(root, "etc", "ssh", "sshd_config.d")
	require.NoError(t, os.MkdirAll(dropInDir, 0o755))

	require.NoError(t, writeSSHHardening(root))

	data, err := os.ReadFile(filepath.Join(dropInDir, "90-hardening.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "PermitRootLogin no")
	assert.Contains(t, string(data), "MaxAuthTries 3")
}

func TestWriteSSHHardening_FallsBackToDirectEdit(t *testing.T) {
	root := t.TempDir()
	sshDir := filepath.Join(root, "etc", "ssh")
	require.NoError(t, os.MkdirAll(sshDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sshDir, "sshd_config"), []byte("#PermitRootLogin yes\nPort 22\n"), 0o644))

	require.NoError(t, writeSSHHardening(root))

	data, err := os.ReadFile(filepath.Join(sshDir, "sshd_config"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "PermitRootLogin no")
	assert.Contains(t, string(data), "Port 22")
	assert.Contains(t, string(data), "MaxAuthTries 3")
}

func TestWriteSSHHardening_MissingConfigIsTolerated(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, writeSSHHardening(root))
}

func TestSecurityHardening_BaselineProfileAppliesWithoutChroot(t *testing.T) {
	ws := newSecurityTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(ws.Chroot(), "etc"), 0o755))
	plan := &buildplan.BuildPlan{SecurityHardeningProfile: "baseline"}

	res, err := SecurityHardening{}.Execute(context.Background(), plan, ws, nil)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusSuccess, res.Status)

	_, err = os.Stat(filepath.Join(ws.Chroot(), "etc", "sysctl.d", "90-baseline-hardening.conf"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws.Chroot(), "etc", "modprobe.d", "90-hardening-blacklist.conf"))
	assert.NoError(t, err)
}
