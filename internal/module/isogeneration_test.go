package module

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zforge/zforge/internal/buildplan"
)

func testLogEntry() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestOutputISOName_UsesMetaNameAndVersion(t *testing.T) {
	plan := &buildplan.BuildPlan{Meta: buildplan.MetaConfig{Name: "zforge-proxmox", Version: "3.1.0"}}
	assert.Equal(t, "zforge-proxmox-3.1.0.iso", outputISOName(plan))
}

func TestOutputISOName_FallsBackWhenMetaEmpty(t *testing.T) {
	plan := &buildplan.BuildPlan{}
	assert.Equal(t, "zforge-proxmox-dev.iso", outputISOName(plan))
}

func TestPrepareISOStructure_CreatesFixedLayout(t *testing.T) {
	root := t.TempDir()
	isoRoot := filepath.Join(root, "iso")
	require.NoError(t, prepareISOStructure(isoRoot))

	for _, d := range []string{"boot", "EFI/BOOT", "isolinux", "live", "install", ".disk"} {
		info, err := os.Stat(filepath.Join(isoRoot, d))
		require.NoError(t, err, "missing %s", d)
		assert.True(t, info.IsDir())
	}
}

func TestPrepareISOStructure_WipesPriorContents(t *testing.T) {
	root := t.TempDir()
	isoRoot := filepath.Join(root, "iso")
	require.NoError(t, os.MkdirAll(isoRoot, 0o755))
	stale := filepath.Join(isoRoot, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	require.NoError(t, prepareISOStructure(isoRoot))
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestCopyFileIfExists_TolerantOfMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := copyFileIfExists(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "dst"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCopyFileIfExists_CopiesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dst := filepath.Join(dir, "dst")
	require.NoError(t, copyFileIfExists(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestCopyEFIStaging_PreservesTreeShape(t *testing.T) {
	root := t.TempDir()
	efiRoot := filepath.Join(root, "efi")
	isoRoot := filepath.Join(root, "iso")
	require.NoError(t, os.MkdirAll(filepath.Join(efiRoot, "EFI", "BOOT"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(efiRoot, "EFI", "BOOT", "BOOTX64.EFI"), []byte("stub"), 0o644))

	require.NoError(t, copyEFIStaging(efiRoot, isoRoot))

	data, err := os.ReadFile(filepath.Join(isoRoot, "EFI", "BOOT", "BOOTX64.EFI"))
	require.NoError(t, err)
	assert.Equal(t, "stub", string(data))
}

func TestLatestGlobMatch_PicksSortedLast(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vmlinuz-5.10.0"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vmlinuz-6.8.0"), []byte{}, 0o644))

	match, err := latestGlobMatch(filepath.Join(dir, "vmlinuz-*"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vmlinuz-6.8.0"), match)
}

func TestLatestGlobMatch_ErrorsWhenNoMatch(t *testing.T) {
	dir := t.TempDir()
	_, err := latestGlobMatch(filepath.Join(dir, "vmlinuz-*"))
	assert.Error(t, err)
}

func TestCopyKernelAndInitramfs_CopiesLatestIntoBootDir(t *testing.T) {
	root := t.TempDir()
	chrootPath := filepath.Join(root, "chroot")
	isoRoot := filepath.Join(root, "iso")
	require.NoError(t, os.MkdirAll(filepath.Join(chrootPath, "boot"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(isoRoot, "boot"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chrootPath, "boot", "vmlinuz-6.8.0"), []byte("kernel"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chrootPath, "boot", "initramfs-6.8.0.img"), []byte("initramfs"), 0o644))

	require.NoError(t, copyKernelAndInitramfs(chrootPath, isoRoot))

	k, err := os.ReadFile(filepath.Join(isoRoot, "boot", "vmlinuz"))
	require.NoError(t, err)
	assert.Equal(t, "kernel", string(k))

	i, err := os.ReadFile(filepath.Join(isoRoot, "boot", "initramfs.img"))
	require.NoError(t, err)
	assert.Equal(t, "initramfs", string(i))
}

func TestWriteDiskInfo_ContainsMetaAndBuildID(t *testing.T) {
	isoRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(isoRoot, ".disk"), 0o755))
	plan := &buildplan.BuildPlan{Meta: buildplan.MetaConfig{Name: "zforge-proxmox", Version: "3.1.0"}}

	require.NoError(t, writeDiskInfo(isoRoot, plan, "11111111-2222-3333-4444-555555555555"))

	data, err := os.ReadFile(filepath.Join(isoRoot, ".disk", "info"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "zforge-proxmox")
	assert.Contains(t, string(data), "3.1.0")
	assert.Contains(t, string(data), "11111111-2222-3333-4444-555555555555")
}

func TestWriteBuildIDFile_WritesUnderEtcZforge(t *testing.T) {
	chrootPath := t.TempDir()
	require.NoError(t, writeBuildIDFile(chrootPath, "abc-123"))

	data, err := os.ReadFile(filepath.Join(chrootPath, "etc", "zforge", "build-id"))
	require.NoError(t, err)
	assert.Equal(t, "abc-123\n", string(data))
}

func TestWriteSidecars_ProducesMatchingChecksums(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.iso")
	require.NoError(t, os.WriteFile(path, []byte("fake iso contents"), 0o644))

	sum, size, err := writeSidecars(path)
	require.NoError(t, err)
	assert.Len(t, sum, 64)
	assert.Equal(t, int64(len("fake iso contents")), size)

	shaData, err := os.ReadFile(path + ".sha256")
	require.NoError(t, err)
	assert.Contains(t, string(shaData), sum)
	assert.Contains(t, string(shaData), "image.iso")

	md5Data, err := os.ReadFile(path + ".md5")
	require.NoError(t, err)
	assert.Contains(t, string(md5Data), "image.iso")
}

func TestIsoNameMatches_IgnoresVersionSuffixAndCase(t *testing.T) {
	assert.True(t, isoNameMatches("BOOTX64.EFI;1", "bootx64.efi"))
	assert.True(t, isoNameMatches("filesystem.squashfs", "FILESYSTEM.SQUASHFS"))
	assert.False(t, isoNameMatches("vmlinuz", "initramfs.img"))
}

func TestStageBIOSBoot_WritesPlaceholderWhenSyslinuxAbsent(t *testing.T) {
	isoRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(isoRoot, "isolinux"), 0o755))
	plan := &buildplan.BuildPlan{Meta: buildplan.MetaConfig{Name: "zforge-proxmox"}}

	require.NoError(t, stageBIOSBoot(isoRoot, plan, testLogEntry()))

	_, err := os.Stat(filepath.Join(isoRoot, "isolinux", "isolinux.bin"))
	require.NoError(t, err)

	cfg, err := os.ReadFile(filepath.Join(isoRoot, "isolinux", "isolinux.cfg"))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "/boot/vmlinuz")
	assert.Contains(t, string(cfg), "/boot/initramfs.img")
}
