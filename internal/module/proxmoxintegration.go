package module

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cavaliercoder/grab"
	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/chroot"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/workspace"
)

// proxmoxReleaseKeyURL is fetched from the host, outside the chroot, so the
// download benefits from grab's resumable/retry handling instead of a bare
// wget run with no network retry logic inside the target. A var, not a
// const, so tests can point it at a local fixture server.
var proxmoxReleaseKeyURL = "https://enterprise.proxmox.com/debian/proxmox-release-bookworm.gpg"

// defaultProxmoxPackages is used when BuildPlan.Proxmox.Packages is empty,
// grounded on the original proxmox_integration.py module's include list
// (trimmed of the pinned pve-kernel/pve-headers entries, which this
// pipeline handles through KernelAcquisition instead).
var defaultProxmoxPackages = []string{
	"proxmox-ve", "pve-firmware", "pve-manager", "pve-cluster",
	"lvm2", "bridge-utils", "gdisk",
}

var minimalProxmoxPackages = []string{"pve-manager", "pve-cluster"}

// ProxmoxIntegration adds the Proxmox repository and key, installs the
// declared package set, and suppresses the subscription banner, grounded
// on the original proxmox_integration.py module.
type ProxmoxIntegration struct{}

func (ProxmoxIntegration) Name() string { return "ProxmoxIntegration" }

func (ProxmoxIntegration) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	log := logrus.WithField("module", "ProxmoxIntegration")
	chrootPath := ws.Chroot()

	if err := writeProxmoxSources(chrootPath); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	if err := fetchProxmoxReleaseKey(ctx, chrootPath); err != nil {
		return Result{}, fmt.Errorf("%w: fetching Proxmox release key: %v", common.ErrNetwork, err)
	}

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

	if _, err := sess.Run(ctx, []string{"apt-get", "update"}, nil, nil); err != nil {
		return Result{}, fmt.Errorf("%w: apt-get update: %v", common.ErrPackageInstall, err)
	}

	packages := plan.Proxmox.Packages
	if len(packages) == 0 {
		if plan.Proxmox.MinimalInstall {
			packages = minimalProxmoxPackages
		} else {
			packages = defaultProxmoxPackages
		}
	}

	argv := append([]string{"apt-get", "install", "-y"}, packages...)
	if _, err := sess.Run(ctx, argv, nil, nil); err != nil {
		return Result{}, fmt.Errorf("%w: installing %v: %v", common.ErrPackageInstall, packages, err)
	}

	if err := suppressSubscriptionBanner(ctx, sess); err != nil {
		log.WithError(err).Warn("could not suppress subscription banner, pve-manager assets may not be present yet")
	}

	resume, _ := json.Marshal(map[string]interface{}{"packages": packages})
	log.Info("proxmox integration complete")
	return Result{Status: checkpoint.StatusSuccess, ResumeData: resume}, nil
}

// fetchProxmoxReleaseKey downloads the Proxmox release key straight into the
// chroot's trusted.gpg.d, from the host rather than from inside the chroot,
// so apt-get update can verify the pve-no-subscription repository signature.
func fetchProxmoxReleaseKey(ctx context.Context, chrootPath string) error {
	dst := filepath.Join(chrootPath, "etc", "apt", "trusted.gpg.d", "proxmox-release.gpg")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	req, err := grab.NewRequest(proxmoxReleaseKeyURL)
	if err != nil {
		return err
	}
	req.Filename = dst
	req.HTTPRequest = req.HTTPRequest.WithContext(ctx)
	_, err = grab.DefaultClient.Do(req)
	return err
}

func writeProxmoxSources(chrootPath string) error {
	content := "deb http://download.proxmox.com/debian/pve bookworm pve-no-subscription\n"
	path := filepath.Join(chrootPath, "etc", "apt", "sources.list.d", "pve.list")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// suppressSubscriptionBanner patches the web UI's nag-screen check the way
// the community "no-nag" patch does, silently no-op-ing if the asset isn't
// present at this point in the pipeline.
func suppressSubscriptionBanner(ctx context.Context, sess *chroot.Session) error {
	target := "/usr/share/javascript/proxmox-widget-toolkit/proxmoxlib.js"
	patch := fmt.Sprintf(
		`test -f %s && sed -i "s/data.status.toLowerCase() !== 'active'/false/g" %s || true`,
		target, target)
	_, err := sess.Run(ctx, []string{"bash", "-c", patch}, nil, nil)
	return err
}
