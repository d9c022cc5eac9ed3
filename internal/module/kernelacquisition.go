package module

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/chroot"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/workspace"
)

// minimumKernelFloor is the kernel series below which a build with
// BuildPlan.Builder.Kernel "latest" logs a warning. The floor is not
// enforced: an older kernel is still installed and accepted.
const minimumKernelFloor = "6.5"

// kernelResumeData is KernelAcquisition's opaque resume payload: the
// resolved concrete version string (spec.md §4.5.3).
type kernelResumeData struct {
	Version string `json:"version"`
}

// KernelAcquisition installs a kernel, headers, and firmware into the
// chroot, grounded on the original kernel_acquisition.py module's apt-based
// install flow (adapted here to run entirely inside the chroot rather than
// downloading .debs to the host first).
type KernelAcquisition struct{}

func (KernelAcquisition) Name() string { return "KernelAcquisition" }

func (KernelAcquisition) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	log := logrus.WithField("module", "KernelAcquisition")

	var metapackage string
	if plan.Builder.Kernel == "latest" || plan.Builder.Kernel == "" {
		metapackage = "linux-image-amd64"
	} else {
		metapackage = fmt.Sprintf("linux-image-%s-amd64", plan.Builder.Kernel)
	}
	headersPackage := strings.Replace(metapackage, "linux-image", "linux-headers", 1)

	ex := chroot.New(ws.Chroot())
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

	argv := []string{"apt-get", "install", "-y", metapackage, headersPackage, "firmware-linux"}
	if _, err := sess.Run(ctx, argv, nil, nil); err != nil {
		return Result{}, fmt.Errorf("%w: installing %s: %v", common.ErrPackageInstall, metapackage, err)
	}

	resolved, err := resolveInstalledKernelVersion(ctx, sess)
	if err != nil {
		return Result{}, fmt.Errorf("%w: resolving installed kernel version: %v", common.ErrKernelZFSMismatch, err)
	}

	if resolved < minimumKernelFloor && (plan.Builder.Kernel == "latest" || plan.Builder.Kernel == "") {
		log.WithField("resolved", resolved).Warn("resolved kernel is below the preferred floor, proceeding anyway")
	}

	resume, _ := json.Marshal(kernelResumeData{Version: resolved})
	log.WithField("version", resolved).Info("kernel installed")
	return Result{Status: checkpoint.StatusSuccess, ResumeData: resume}, nil
}

func resolveInstalledKernelVersion(ctx context.Context, sess *chroot.Session) (string, error) {
	res, err := sess.Run(ctx, []string{"sh", "-c", "ls /lib/modules | sort -V | tail -n1"}, nil, nil)
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(res.Stdout)
	if version == "" {
		return "", fmt.Errorf("no installed kernel module directory found")
	}
	return version, nil
}
