package module

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/chroot"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/workspace"
)

// dracutResumeData is DracutConfig's opaque resume payload.
type dracutResumeData struct {
	KernelVersion string `json:"kernel_version"`
}

// DracutConfig removes the alternate initramfs generator, installs dracut,
// writes its configuration, and generates the initramfs, including the
// custom copy-to-RAM hook. Grounded on the original dracut_config.py
// module; the copy-to-RAM hook itself has no source-repo counterpart and is
// authored fresh from spec.md §4.5.5.
type DracutConfig struct{}

func (DracutConfig) Name() string { return "DracutConfig" }

func (DracutConfig) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	log := logrus.WithField("module", "DracutConfig")
	chrootPath := ws.Chroot()

	ex := chroot.New(chrootPath)
	cacheDir := ""
	if plan.Builder.CachePackages {
		cacheDir = ws.Cache()
	}
	sess, err := ex.Enter(cacheDir)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if relErr := sess.Release(); relErr != nil {
			log.WithError(relErr).Error("releasing chroot session")
		}
	}()

	// Tolerate initramfs-tools not being installed.
	_, _ = sess.Run(ctx, []string{"apt-get", "remove", "-y", "initramfs-tools"}, nil, nil)

	if _, err := sess.Run(ctx, []string{"apt-get", "install", "-y", "dracut", "dracut-core", "dracut-network", "dracut-squash"}, nil, nil); err != nil {
		return Result{}, fmt.Errorf("%w: installing dracut: %v", common.ErrPackageInstall, err)
	}

	if err := writeDracutConfig(chrootPath, plan.Dracut); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	if err := installCopyToRAMHook(chrootPath); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	if err := ensureHostID(ctx, sess); err != nil {
		return Result{}, fmt.Errorf("%w: generating hostid: %v", common.ErrInitramfsRegen, err)
	}

	kernelVersion, err := generateInitramfs(ctx, sess)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrInitramfsRegen, err)
	}

	resume, _ := json.Marshal(dracutResumeData{KernelVersion: kernelVersion})
	log.WithField("kernel", kernelVersion).Info("initramfs generated")
	return Result{Status: checkpoint.StatusSuccess, ResumeData: resume}, nil
}

func writeDracutConfig(chrootPath string, dc buildplan.DracutConfig) error {
	modules := common.UniqueStrings(append([]string{"zfs", "systemd"}, dc.Modules...))
	cmdline := dc.KernelCmdline
	if cmdline == "" {
		cmdline = "root=zfs:AUTO"
	}

	conf := fmt.Sprintf(`# ZForge dracut configuration
compress="%s"
add_dracutmodules+=" %s "
filesystems+=" zfs "
hostonly="%s"
kernel_cmdline="%s"
add_drivers+=" %s "
install_optional_items+=" /etc/hostid /etc/zfs/zpool.cache "
install_items+=" /usr/bin/zfs /usr/bin/zpool "
`, dc.Compression, strings.Join(modules, " "), hostonlyToken(dc.Hostonly), cmdline, strings.Join(dc.ExtraDrivers, " "))

	path := filepath.Join(chrootPath, "etc", "dracut.conf.d", "zforge.conf")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(conf), 0o644)
}

func hostonlyToken(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// installCopyToRAMHook installs a dracut cmdline hook implementing spec.md
// §4.5.5's toram behavior: when zforge.toram=yes or toram is on the kernel
// command line, the live SquashFS is copied into a tmpfs, attached to a loop
// device, and that device is linked as /dev/root. The hook does not mount
// the loop device itself.
func installCopyToRAMHook(chrootPath string) error {
	moduleDir := filepath.Join(chrootPath, "usr", "lib", "dracut", "modules.d", "90zforgetoram")
	if err := os.MkdirAll(moduleDir, 0o755); err != nil {
		return err
	}

	moduleSetup := `#!/bin/bash
check() {
    return 0
}

depends() {
    echo "squash-live dmsquash-live"
    return 0
}

install() {
    inst_hook cmdline 30 "$moddir/zforge-toram.sh"
    inst_simple /bin/cp
}
`
	if err := os.WriteFile(filepath.Join(moduleDir, "module-setup.sh"), []byte(moduleSetup), 0o755); err != nil {
		return err
	}

	hookScript := `#!/bin/sh
# Copy the live SquashFS into a tmpfs-backed loop device when
# zforge.toram=yes or the bare "toram" option is present.
. /lib/dracut-lib.sh

toram=0
for opt in $(getcmdline); do
    case "$opt" in
        zforge.toram=yes|toram) toram=1 ;;
    esac
done

[ "$toram" = "1" ] || exit 0

squashpath=$(getarg findiso=)
[ -z "$squashpath" ] && squashpath="/live/filesystem.squashfs"

live_root=/run/initramfs/live
squash_src="$live_root$squashpath"

if [ ! -f "$squash_src" ]; then
    warn "zforge-toram: $squash_src not found, booting from medium instead"
    exit 0
fi

squash_size=$(stat -c %s "$squash_src")
mem_total_kb=$(awk '/MemTotal/ {print $2}' /proc/meminfo)
mem_total=$((mem_total_kb * 1024))
needed=$((squash_size + 268435456))
cap=$((mem_total * 75 / 100))

if [ "$needed" -gt "$cap" ]; then
    warn "zforge-toram: not enough RAM headroom, booting from medium instead"
    exit 0
fi

mkdir -p /run/zforge-toram
mount -t tmpfs -o size="$squash_size" tmpfs /run/zforge-toram
cp "$squash_src" /run/zforge-toram/filesystem.squashfs

loopdev=$(losetup -f --show /run/zforge-toram/filesystem.squashfs)
echo "$loopdev" > /run/zforge-toram-loopdev
ln -sf "$loopdev" /dev/root
`
	return os.WriteFile(filepath.Join(moduleDir, "zforge-toram.sh"), []byte(hookScript), 0o755)
}

func ensureHostID(ctx context.Context, sess *chroot.Session) error {
	res, err := sess.Run(ctx, []string{"test", "-f", "/etc/hostid"}, nil, nil)
	if err == nil && res != nil {
		return nil
	}
	_, err = sess.Run(ctx, []string{"bash", "-c", `zgenhostid "$(hexdump -n 4 -e '"0x%08x"' /dev/urandom)"`}, nil, nil)
	return err
}

func generateInitramfs(ctx context.Context, sess *chroot.Session) (string, error) {
	res, err := sess.Run(ctx, []string{"bash", "-c", "ls -1 /lib/modules | sort -V | tail -1"}, nil, nil)
	if err != nil {
		return "", err
	}
	kernelVersion := strings.TrimSpace(res.Stdout)
	if kernelVersion == "" {
		return "", fmt.Errorf("no kernel modules found")
	}

	initramfsPath := fmt.Sprintf("/boot/initramfs-%s.img", kernelVersion)
	if _, err := sess.Run(ctx, []string{"dracut", "-f", initramfsPath, kernelVersion, "--force"}, nil, nil); err != nil {
		return "", err
	}

	linkPath := fmt.Sprintf("/boot/initrd.img-%s", kernelVersion)
	if _, err := sess.Run(ctx, []string{"ln", "-sf", fmt.Sprintf("initramfs-%s.img", kernelVersion), linkPath}, nil, nil); err != nil {
		return "", err
	}

	return kernelVersion, nil
}
