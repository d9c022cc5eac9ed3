package module

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/workspace"
)

// Runner is the Pipeline Runner (spec.md §4.4): walks modules strictly in
// declared order, never in parallel, and checkpoints each outcome.
type Runner struct {
	Plan       *buildplan.BuildPlan
	Workspace  *workspace.Workspace
	Checkpoint *checkpoint.Store
	Registry   *Registry
}

// Run executes every enabled module in plan order, starting from the
// beginning. It stops and returns the first module error.
func (r *Runner) Run(ctx context.Context) error {
	return r.run(ctx, false)
}

// Resume advances to the first module whose checkpoint is not success and
// proceeds from there, per spec.md §4.4.
func (r *Runner) Resume(ctx context.Context) error {
	return r.run(ctx, true)
}

func (r *Runner) run(ctx context.Context, resume bool) error {
	for _, entry := range r.Plan.Modules {
		log := logrus.WithField("module", entry.Name)

		if resume {
			if rec, ok := r.Checkpoint.Get(entry.Name); ok && rec.Status == checkpoint.StatusSuccess {
				log.Debug("already succeeded, skipping on resume")
				continue
			}
			// From the first enabled module without a success checkpoint
			// onward, every module runs again.
			if entry.Enabled {
				resume = false
			}
		}

		if !entry.Enabled {
			log.Info("module disabled, skipping")
			if err := r.Checkpoint.Put(checkpoint.Record{
				Module:    entry.Name,
				Status:    checkpoint.StatusSkipped,
				Timestamp: time.Now(),
			}); err != nil {
				return fmt.Errorf("recording skip checkpoint for %s: %w", entry.Name, err)
			}
			continue
		}

		mod, err := r.Registry.Lookup(entry.Name)
		if err != nil {
			return err
		}

		var resumeData []byte
		if rec, ok := r.Checkpoint.Get(entry.Name); ok {
			resumeData = rec.ResumeData
		}

		log.Info("starting module")
		result, err := mod.Execute(ctx, r.Plan, r.Workspace, resumeData)
		if err != nil {
			log.WithError(err).Error("module failed")
			if cpErr := r.Checkpoint.Put(checkpoint.Record{
				Module:    entry.Name,
				Status:    checkpoint.StatusError,
				Error:     err.Error(),
				Timestamp: time.Now(),
			}); cpErr != nil {
				log.WithError(cpErr).Error("failed to record error checkpoint")
			}
			return fmt.Errorf("module %s: %w", entry.Name, err)
		}

		if err := r.Checkpoint.Put(checkpoint.Record{
			Module:     entry.Name,
			Status:     result.Status,
			ResumeData: result.ResumeData,
			Timestamp:  time.Now(),
		}); err != nil {
			return fmt.Errorf("recording checkpoint for %s: %w", entry.Name, err)
		}
		log.Info("module completed")
	}
	return nil
}
