package module

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/chroot"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/workspace"
)

const liveUsername = "liveuser"

// LiveEnvironment configures the live user account, display-manager
// autologin, the installer autostart entry, and branding assets, grounded
// on the original live_environment.py module's configure/services steps
// (narrowed to spec.md §4.5.8's scope; package install and initramfs
// regeneration belong to Debootstrap and DracutConfig respectively in this
// pipeline's module split).
type LiveEnvironment struct{}

func (LiveEnvironment) Name() string { return "LiveEnvironment" }

func (LiveEnvironment) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	log := logrus.WithField("module", "LiveEnvironment")
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

	createUser := fmt.Sprintf("useradd -m -s /bin/bash %s || true", liveUsername)
	if _, err := sess.Run(ctx, []string{"bash", "-c", createUser}, nil, nil); err != nil {
		return Result{}, fmt.Errorf("%w: creating live user: %v", common.ErrValidation, err)
	}

	sudoers := fmt.Sprintf("%s ALL=(ALL) NOPASSWD: /usr/bin/calamares\n", liveUsername)
	if err := os.WriteFile(filepath.Join(chrootPath, "etc", "sudoers.d", "zforge-installer"), []byte(sudoers), 0o440); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	if err := writeAutologin(chrootPath); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if err := writeInstallerAutostart(chrootPath); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if err := writeBrandingAssets(chrootPath, plan.Meta.Name); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	log.Info("live environment configured")
	return Result{Status: checkpoint.StatusSuccess}, nil
}

func writeAutologin(chrootPath string) error {
	dir := filepath.Join(chrootPath, "etc", "lightdm", "lightdm.conf.d")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("[Seat:*]\nautologin-user=%s\nautologin-session=default\n", liveUsername)
	return os.WriteFile(filepath.Join(dir, "50-zforge-autologin.conf"), []byte(content), 0o644)
}

func writeInstallerAutostart(chrootPath string) error {
	dir := filepath.Join(chrootPath, "etc", "xdg", "autostart")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	content := `[Desktop Entry]
Type=Application
Name=ZForge Installer
Exec=/usr/bin/calamares
X-GNOME-Autostart-enabled=true
`
	return os.WriteFile(filepath.Join(dir, "zforge-installer.desktop"), []byte(content), 0o644)
}

func writeBrandingAssets(chrootPath, name string) error {
	dir := filepath.Join(chrootPath, "etc", "calamares", "branding", "zforge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("---\ncomponentName: zforge\nwelcomeStyleCalamares: true\nproductName: %s\n", name)
	return os.WriteFile(filepath.Join(dir, "branding.desc"), []byte(content), 0o644)
}
