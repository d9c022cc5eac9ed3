package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zforge/zforge/internal/globalstorage"
)

func testLogEntry() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func withESPSourceDir(t *testing.T, dir string) {
	old := espSourceDir
	espSourceDir = dir
	t.Cleanup(func() { espSourceDir = old })
}

func TestInstallZFSBootMenu_CopiesSourceIntoEachESPSlot(t *testing.T) {
	root := t.TempDir()
	withESPSourceDir(t, t.TempDir())

	require.NoError(t, os.WriteFile(filepath.Join(espSourceDir, "BOOTX64.EFI"), []byte("efi-bytes"), 0o644))

	require.NoError(t, installZFSBootMenu(root, 3, testLogEntry()))

	primary := filepath.Join(root, "boot", "efi", "EFI", "BOOT", "BOOTX64.EFI")
	data, err := os.ReadFile(primary)
	require.NoError(t, err)
	assert.Equal(t, "efi-bytes", string(data))

	for i := 1; i < 3; i++ {
		dst := filepath.Join(root, "boot", "efi", "EFI", fmt.Sprintf("BOOT%d", i), "BOOTX64.EFI")
		_, err := os.Stat(dst)
		assert.NoError(t, err, dst)
	}
}

func TestInstallZFSBootMenu_WritesPlaceholderWhenSourceMissing(t *testing.T) {
	root := t.TempDir()
	withESPSourceDir(t, t.TempDir())

	require.NoError(t, installZFSBootMenu(root, 1, testLogEntry()))

	dst := filepath.Join(root, "boot", "efi", "EFI", "BOOT", "BOOTX64.EFI")
	_, err := os.Stat(dst)
	assert.NoError(t, err)
}

func withOCSourceDir(t *testing.T, dir string) {
	old := ocSourceDir
	ocSourceDir = dir
	t.Cleanup(func() { ocSourceDir = old })
}

// installOpenCore itself mounts and unmounts a real block device, which has
// no fixture in a test environment; writeOpenCoreConfigPlist and the copy
// helpers below are exercised directly instead.

func TestWriteOpenCoreConfigPlist_DefaultsDevicePath(t *testing.T) {
	ocDir := t.TempDir()
	require.NoError(t, writeOpenCoreConfigPlist(ocDir, ""))

	data, err := os.ReadFile(filepath.Join(ocDir, "config.plist"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ZFSBootMenu")
	assert.Contains(t, string(data), "BOOTX64.EFI")
	assert.Contains(t, string(data), defaultPCIeDevicePath)
}

func TestWriteOpenCoreConfigPlist_UsesSuppliedDevicePath(t *testing.T) {
	ocDir := t.TempDir()
	require.NoError(t, writeOpenCoreConfigPlist(ocDir, "PciRoot(0x0)/Pci(0x2,0x0)"))

	data, err := os.ReadFile(filepath.Join(ocDir, "config.plist"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Pci(0x2,0x0)")
}

func TestCopyOpenCoreBinary_CopiesPackagedAsset(t *testing.T) {
	withOCSourceDir(t, t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(ocSourceDir, "OpenCore.efi"), []byte("oc-bytes"), 0o644))

	ocDir := t.TempDir()
	require.NoError(t, copyOpenCoreBinary(ocDir, testLogEntry()))

	data, err := os.ReadFile(filepath.Join(ocDir, "OpenCore.efi"))
	require.NoError(t, err)
	assert.Equal(t, "oc-bytes", string(data))
}

func TestCopyOpenCoreBinary_WritesPlaceholderWhenSourceMissing(t *testing.T) {
	withOCSourceDir(t, t.TempDir())

	ocDir := t.TempDir()
	require.NoError(t, copyOpenCoreBinary(ocDir, testLogEntry()))

	_, err := os.Stat(filepath.Join(ocDir, "OpenCore.efi"))
	assert.NoError(t, err)
}

func TestCopyOpenCoreDrivers_CopiesPackagedDrivers(t *testing.T) {
	withOCSourceDir(t, t.TempDir())
	driversSrc := filepath.Join(ocSourceDir, "Drivers")
	require.NoError(t, os.MkdirAll(driversSrc, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(driversSrc, "CustomDriver.efi"), []byte("driver-bytes"), 0o644))

	driversDir := t.TempDir()
	require.NoError(t, copyOpenCoreDrivers(driversDir, testLogEntry()))

	data, err := os.ReadFile(filepath.Join(driversDir, "CustomDriver.efi"))
	require.NoError(t, err)
	assert.Equal(t, "driver-bytes", string(data))
}

func TestCopyOpenCoreDrivers_WritesPlaceholdersWhenSourceMissing(t *testing.T) {
	withOCSourceDir(t, t.TempDir())

	driversDir := t.TempDir()
	require.NoError(t, copyOpenCoreDrivers(driversDir, testLogEntry()))

	for _, name := range []string{"OpenRuntime.efi", "NvmExpressDxe.efi"} {
		_, err := os.Stat(filepath.Join(driversDir, name))
		assert.NoError(t, err, name)
	}
}

func TestInstallBootloader_RejectsEmptyRootMountPoint(t *testing.T) {
	err := InstallBootloader(nil, globalstorage.BootloaderInstallRequest{}, testLogEntry())
	assert.Error(t, err)
}
