// Package module defines the pipeline module interface and the runner that
// walks the Module Registry in declared order (spec.md §4.4).
package module

import (
	"context"
	"encoding/json"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/workspace"
)

// Result is what a module's Execute returns to the runner.
type Result struct {
	Status     checkpoint.Status
	ResumeData json.RawMessage
}

// Module is one pipeline stage. Implementations must not reorder
// themselves relative to buildplan.CanonicalModuleOrder; the Runner walks
// the plan's module list in order, not the module.
type Module interface {
	// Name must match one of buildplan.CanonicalModuleOrder's entries.
	Name() string
	// Execute runs the module's work against the plan and workspace.
	// resumeData is the previous run's ResumeData for this module, or nil
	// on a fresh run.
	Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error)
}
