package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/module"
	"github.com/zforge/zforge/internal/workspace"
)

// exitCodeFor maps a pipeline error to spec.md §6's exit code contract:
// 0 success, 1 validation error, 2 module error, 3 workspace-dirty
// refusal, 130 cancelled.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, common.ErrCancelled):
		return 130
	case errors.Is(err, common.ErrMountLeak):
		return 3
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrUnknownOption), errors.Is(err, common.ErrMissingRequired):
		return 1
	default:
		return 2
	}
}

func newBuildCmd() *cobra.Command {
	var specPath string
	var overlayPaths []string
	var resume bool
	var clean bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run (or resume) the ISO build pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(specPath, overlayPaths, resume, clean, dryRun)
		},
	}

	cmd.Flags().StringVar(&specPath, "spec", "zforge.yaml", "path to the build specification")
	cmd.Flags().StringArrayVar(&overlayPaths, "overlay", nil, "additional overlay specification files, applied in order")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the workspace's checkpoint store instead of starting over")
	cmd.Flags().BoolVar(&clean, "clean", false, "remove the workspace before building")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "load and validate the specification, then exit without building")

	return cmd
}

func runBuild(specPath string, overlayPaths []string, resume, clean, dryRun bool) error {
	log := logrus.WithField("component", "cli")

	plan, err := buildplan.Load(specPath, overlayPaths...)
	if err != nil {
		return err
	}

	if dryRun {
		log.WithField("spec", specPath).Info("specification is valid")
		return nil
	}

	workspaceRoot := plan.Builder.WorkspacePath
	if workspaceRoot == "" {
		workspaceRoot = "/var/lib/zforge/workspace"
	}

	if clean {
		if resume {
			return fmt.Errorf("%w: --clean and --resume are mutually exclusive", common.ErrValidation)
		}
		if err := os.RemoveAll(workspaceRoot); err != nil {
			return fmt.Errorf("%w: cleaning workspace: %v", common.ErrValidation, err)
		}
	}

	ws, err := workspace.Acquire(workspaceRoot)
	if err != nil {
		return err
	}

	store, err := checkpoint.Open(ws.State())
	if err != nil {
		return err
	}

	registry := module.NewRegistry(
		module.WorkspaceSetup{},
		module.Debootstrap{},
		module.KernelAcquisition{},
		module.ZFSBuild{},
		module.DracutConfig{},
		module.ProxmoxIntegration{},
		module.BootloaderSetup{},
		module.LiveEnvironment{},
		module.CalamaresIntegration{},
		module.SecurityHardening{},
		module.ISOGeneration{},
	)

	runner := &module.Runner{
		Plan:       plan,
		Workspace:  ws,
		Checkpoint: store,
		Registry:   registry,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if resume {
		err = runner.Resume(ctx)
	} else {
		err = runner.Run(ctx)
	}
	if err != nil {
		return err
	}

	log.Info("build completed")
	return nil
}
