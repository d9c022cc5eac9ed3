package installer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zforge/zforge/internal/globalstorage"
)

func TestValidatePoolName_AcceptsOrdinaryNames(t *testing.T) {
	for _, name := range []string{"rpool", "tank_1", "pve-data", "a.b.c"} {
		assert.NoError(t, ValidatePoolName(name), name)
	}
}

func TestValidatePoolName_RejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "1pool", "-pool", "pool-", "bad name", "bad/name"} {
		assert.Error(t, ValidatePoolName(name), name)
	}
}

func TestBuildCreateArgv_StripeSingleDisk(t *testing.T) {
	req := globalstorage.PoolCreateRequest{
		NewPoolName: "rpool",
		RaidType:    "stripe",
		Disks:       []string{"/dev/sda"},
		Ashift:      12,
		Compression: "zstd",
	}
	argv, err := BuildCreateArgv(req, "")
	require.NoError(t, err)

	assert.Contains(t, argv, "rpool")
	assert.Contains(t, argv, "/dev/sda")
	assert.Contains(t, argv, "-o")
	assert.Contains(t, argv, "ashift=12")
	assert.Contains(t, argv, "compression=zstd")
	assert.NotContains(t, argv, "raidz1")
}

func TestBuildCreateArgv_MirrorIncludesVdevType(t *testing.T) {
	req := globalstorage.PoolCreateRequest{
		NewPoolName: "bpool",
		RaidType:    "mirror",
		Disks:       []string{"/dev/sdb", "/dev/sdc"},
	}
	argv, err := BuildCreateArgv(req, "")
	require.NoError(t, err)
	assert.Contains(t, argv, "mirror")
}

func TestBuildCreateArgv_RejectsInsufficientDisksForRaid(t *testing.T) {
	req := globalstorage.PoolCreateRequest{
		NewPoolName: "tank",
		RaidType:    "raidz2",
		Disks:       []string{"/dev/sda", "/dev/sdb"},
	}
	_, err := BuildCreateArgv(req, "")
	assert.Error(t, err)
}

func TestBuildCreateArgv_RejectsUnknownRaidType(t *testing.T) {
	req := globalstorage.PoolCreateRequest{
		NewPoolName: "tank",
		RaidType:    "raid0",
		Disks:       []string{"/dev/sda"},
	}
	_, err := BuildCreateArgv(req, "")
	assert.Error(t, err)
}

func TestBuildCreateArgv_RejectsInvalidPoolName(t *testing.T) {
	req := globalstorage.PoolCreateRequest{
		NewPoolName: "-badpool",
		RaidType:    "stripe",
		Disks:       []string{"/dev/sda"},
	}
	_, err := BuildCreateArgv(req, "")
	assert.Error(t, err)
}

func TestBuildCreateArgv_IncludesEncryptionPropertiesWhenKeylocationSet(t *testing.T) {
	req := globalstorage.PoolCreateRequest{
		NewPoolName:         "rpool",
		RaidType:            "stripe",
		Disks:               []string{"/dev/sda"},
		EncryptionAlgorithm: "aes-256-gcm",
		EncryptionKeyformat: "passphrase",
	}
	argv, err := BuildCreateArgv(req, "file:///run/zforge-keys/poolkey-1")
	require.NoError(t, err)
	assert.Contains(t, argv, "encryption=aes-256-gcm")
	assert.Contains(t, argv, "keyformat=passphrase")
	assert.Contains(t, argv, "keylocation=file:///run/zforge-keys/poolkey-1")
}

func TestBuildCreateArgv_AltRootAddsDashR(t *testing.T) {
	req := globalstorage.PoolCreateRequest{
		NewPoolName: "rpool",
		RaidType:    "stripe",
		Disks:       []string{"/dev/sda"},
		AltRoot:     "/mnt/target",
	}
	argv, err := BuildCreateArgv(req, "")
	require.NoError(t, err)
	assert.Contains(t, argv, "-R")
	assert.Contains(t, argv, "/mnt/target")
}

func TestBuildDatasetCreateArgv(t *testing.T) {
	argv := BuildDatasetCreateArgv("rpool", "ROOT/pve")
	assert.Equal(t, []string{"zfs", "create", "-p", "rpool/ROOT/pve"}, argv)
}

func TestBuildExportImportArgv(t *testing.T) {
	assert.Equal(t, []string{"zpool", "export", "rpool"}, BuildExportArgv("rpool"))
	assert.Equal(t, []string{"zpool", "import", "-R", "/mnt/target", "rpool"}, BuildImportArgv("rpool", "/mnt/target"))
}

func TestWriteKeyfile_CreatesModeAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	loc, cleanup, err := writeKeyfile(dir, "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, loc)

	path := loc[len("file://"):]
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(data))

	require.NoError(t, cleanup())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestUseExistingPool_RejectsBadPoolName(t *testing.T) {
	req := globalstorage.PoolCreateRequest{InstallPool: "-bad"}
	_, err := UseExistingPool(nil, req)
	assert.Error(t, err)
}

func TestUseExistingPool_RejectsUnknownInstallMode(t *testing.T) {
	req := globalstorage.PoolCreateRequest{InstallPool: "rpool", InstallMode: "overwrite-everything"}
	_, err := UseExistingPool(nil, req)
	assert.Error(t, err)
}

func TestWriteKeyfile_CreatesDirIfMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "keys")
	_, cleanup, err := writeKeyfile(dir, "x")
	require.NoError(t, err)
	defer cleanup()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
