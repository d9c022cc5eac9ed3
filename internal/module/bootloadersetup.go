package module

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/workspace"
)

const placeholderPCIeDevicePath = "PciRoot(0x0)/Pci(0x1,0x0)/Pci(0x0,0x0)"

// BootloaderSetup stages ZFSBootMenu and optionally OpenCore under the EFI
// staging tree, per spec.md §4.5.7. The installer-side equivalent that
// installs these onto the target's real ESP lives in
// internal/installer/bootloaderinstall.go, grounded on the original
// bootloader_support.py module's zfsbootmenu/OpenCore EFI layout.
type BootloaderSetup struct{}

func (BootloaderSetup) Name() string { return "BootloaderSetup" }

func (BootloaderSetup) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	log := logrus.WithField("module", "BootloaderSetup")
	efiRoot := ws.EFI()

	zbmDir := filepath.Join(efiRoot, "EFI", "BOOT")
	if err := os.MkdirAll(zbmDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	cmdline := plan.Dracut.KernelCmdline
	zbmConfig := fmt.Sprintf(`# ZFSBootMenu configuration
ManagedImages: true
DefaultDataset: rpool/ROOT/%s
ShowSnapshots: true
CommandLine: %s
`, plan.Builder.Release, cmdline)
	if err := os.WriteFile(filepath.Join(zbmDir, "zfsbootmenu.conf"), []byte(zbmConfig), 0o644); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	// Placeholder for the real binary; the packaged zfsbootmenu EFI payload
	// is copied here by the distribution's build, not generated by this
	// pipeline.
	if err := os.WriteFile(filepath.Join(zbmDir, "BOOTX64.EFI"), []byte{}, 0o644); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	if plan.Bootloader.OpenCore.Enabled {
		if err := stageOpenCore(efiRoot, plan.Bootloader.OpenCore, log); err != nil {
			return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		// Also bake the resolved device path into the live rootfs (it ends
		// up in the squashfs), so the installer's zfsbootloader job can
		// chainload to the same PCIe path without the user re-entering it.
		if err := writeOpenCoreDevicePathFile(ws.Chroot(), plan.Bootloader.OpenCore.PCIeDevicePathTemplate); err != nil {
			return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
	}

	log.Info("bootloader assets staged")
	return Result{Status: checkpoint.StatusSuccess}, nil
}

func writeOpenCoreDevicePathFile(chrootPath, devicePath string) error {
	if devicePath == "" {
		devicePath = placeholderPCIeDevicePath
	}
	dir := filepath.Join(chrootPath, "etc", "zforge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "opencore-device-path"), []byte(devicePath+"\n"), 0o644)
}

func stageOpenCore(efiRoot string, oc buildplan.OpenCoreConfig, log *logrus.Entry) error {
	ocDir := filepath.Join(efiRoot, "EFI", "OC")
	driversDir := filepath.Join(ocDir, "Drivers")
	if err := os.MkdirAll(driversDir, 0o755); err != nil {
		return err
	}

	drivers := oc.Drivers
	if len(drivers) == 0 {
		drivers = []string{"OpenRuntime.efi", "NvmExpressDxe.efi"}
	}
	for _, d := range drivers {
		if err := os.WriteFile(filepath.Join(driversDir, d), []byte{}, 0o644); err != nil {
			return err
		}
	}

	devicePath := oc.PCIeDevicePathTemplate
	if devicePath == "" {
		log.Warn("no OpenCore PCIe device path supplied by the hardware overlay, writing a placeholder")
		devicePath = placeholderPCIeDevicePath
	}

	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Misc</key>
	<dict>
		<key>Boot</key>
		<dict>
			<key>PickerMode</key>
			<string>External</string>
		</dict>
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

	if err := os.WriteFile(filepath.Join(ocDir, "config.plist"), []byte(plist), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(ocDir, "OpenCore.efi"), []byte{}, 0o644)
}
