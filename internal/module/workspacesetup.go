package module

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/workspace"
)

// requiredHostTools are the host binaries WorkspaceSetup verifies are on
// PATH before the pipeline touches the workspace, per spec.md §4.5.1.
var requiredHostTools = []string{"debootstrap", "xorriso", "mksquashfs", "mkfs.vfat"}

// WorkspaceSetup verifies host prerequisites and ensures workspace
// subpaths exist, grounded on the original workspace_setup.py module.
type WorkspaceSetup struct{}

func (WorkspaceSetup) Name() string { return "WorkspaceSetup" }

func (WorkspaceSetup) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	log := logrus.WithField("module", "WorkspaceSetup")

	if os.Geteuid() != 0 {
		return Result{}, fmt.Errorf("%w: must run as root", common.ErrMissingRequired)
	}

	for _, tool := range requiredHostTools {
		if _, err := exec.LookPath(tool); err != nil {
			return Result{}, fmt.Errorf("%w: required host tool %q not found: %v", common.ErrMissingRequired, tool, err)
		}
	}

	// Fixed subpaths already created by workspace.Acquire; this module's
	// own job is purely the prerequisite check plus chroot mount points.
	mountPoints := []string{"dev", "dev/pts", "proc", "sys", "run"}
	for _, mp := range mountPoints {
		if err := os.MkdirAll(ws.Path(workspace.SubdirChroot, mp), 0o755); err != nil {
			return Result{}, fmt.Errorf("%w: creating chroot mount point %s: %v", common.ErrValidation, mp, err)
		}
	}

	log.Info("workspace prerequisites verified")
	return Result{Status: checkpoint.StatusSuccess}, nil
}
