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
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/subprocess"
	"github.com/zforge/zforge/internal/workspace"
)

// debootstrapSeedPackages is the initial package seed installed by
// debootstrap itself, per spec.md §4.5.2.
var debootstrapSeedPackages = []string{"ca-certificates", "gnupg", "locales"}

// Debootstrap populates chroot/ with the declared base release, grounded
// on the original debootstrap.py module.
type Debootstrap struct{}

func (Debootstrap) Name() string { return "Debootstrap" }

func (Debootstrap) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	log := logrus.WithField("module", "Debootstrap")
	chrootPath := ws.Chroot()
	release := plan.Builder.Release

	argv := []string{
		"debootstrap",
		"--arch=amd64",
		"--include=" + strings.Join(debootstrapSeedPackages, ","),
		release,
		chrootPath,
		"http://deb.debian.org/debian",
	}

	err := subprocess.WithRetry(ctx, subprocess.DefaultRetryConfig, log, func() error {
		_, runErr := subprocess.Run(ctx, argv, subprocess.Options{Log: log})
		return runErr
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: debootstrap %s: %v", common.ErrNetwork, release, err)
	}

	if err := writeAptSources(chrootPath, release); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	if plan.Builder.CachePackages {
		if err := writeAptProxyConf(chrootPath, ws.Cache()); err != nil {
			return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
	}

	resume, _ := json.Marshal(map[string]string{"release": release})
	log.Info("debootstrap completed")
	return Result{Status: checkpoint.StatusSuccess, ResumeData: resume}, nil
}

func writeAptSources(chrootPath, release string) error {
	sources := fmt.Sprintf(`deb http://deb.debian.org/debian %s main contrib non-free non-free-firmware
deb http://deb.debian.org/debian %s-updates main contrib non-free non-free-firmware
deb http://security.debian.org/debian-security %s-security main contrib non-free non-free-firmware
`, release, release, release)

	path := filepath.Join(chrootPath, "etc", "apt", "sources.list")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sources), 0o644)
}

func writeAptProxyConf(chrootPath, cacheDir string) error {
	conf := fmt.Sprintf("Acquire::http::Proxy-Auto-Detect \"false\";\nDir::Cache::Archives \"%s\";\n", cacheDir)
	path := filepath.Join(chrootPath, "etc", "apt", "apt.conf.d", "01zforge-cache")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(conf), 0o644)
}
