package module

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/workspace"
)

type fakeModule struct {
	name    string
	calls   *[]string
	fail    bool
	resume  json.RawMessage
}

func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	*f.calls = append(*f.calls, f.name)
	if f.fail {
		return Result{}, errors.New("boom")
	}
	return Result{Status: checkpoint.StatusSuccess, ResumeData: f.resume}, nil
}

func newTestRunner(t *testing.T, modules []Module, names []string) *Runner {
	t.Helper()
	ws, err := workspace.Acquire(t.TempDir())
	require.NoError(t, err)
	cp, err := checkpoint.Open(ws.State())
	require.NoError(t, err)

	entries := make([]buildplan.ModuleEntry, len(names))
	for i, n := range names {
		entries[i] = buildplan.ModuleEntry{Name: n, Enabled: true}
	}

	return &Runner{
		Plan:       &buildplan.BuildPlan{Modules: entries},
		Workspace:  ws,
		Checkpoint: cp,
		Registry:   NewRegistry(modules...),
	}
}

func TestRun_ExecutesInDeclaredOrder(t *testing.T) {
	var calls []string
	modules := []Module{
		&fakeModule{name: "A", calls: &calls},
		&fakeModule{name: "B", calls: &calls},
		&fakeModule{name: "C", calls: &calls},
	}
	r := newTestRunner(t, modules, []string{"A", "B", "C"})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"A", "B", "C"}, calls)
}

func TestRun_StopsOnFirstError(t *testing.T) {
	var calls []string
	modules := []Module{
		&fakeModule{name: "A", calls: &calls},
		&fakeModule{name: "B", calls: &calls, fail: true},
		&fakeModule{name: "C", calls: &calls},
	}
	r := newTestRunner(t, modules, []string{"A", "B", "C"})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"A", "B"}, calls)

	rec, ok := r.Checkpoint.Get("B")
	require.True(t, ok)
	assert.Equal(t, checkpoint.StatusError, rec.Status)
}

func TestResume_SkipsAlreadySucceededModules(t *testing.T) {
	var calls []string
	modules := []Module{
		&fakeModule{name: "A", calls: &calls},
		&fakeModule{name: "B", calls: &calls},
	}
	r := newTestRunner(t, modules, []string{"A", "B"})
	require.NoError(t, r.Run(context.Background()))

	calls = nil
	require.NoError(t, r.Resume(context.Background()))
	assert.Empty(t, calls)
}

func TestRun_DisabledModuleIsSkippedNotReordered(t *testing.T) {
	var calls []string
	modules := []Module{
		&fakeModule{name: "A", calls: &calls},
		&fakeModule{name: "B", calls: &calls},
	}
	r := newTestRunner(t, modules, []string{"A", "B"})
	r.Plan.Modules[0].Enabled = false

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"B"}, calls)

	rec, ok := r.Checkpoint.Get("A")
	require.True(t, ok)
	assert.Equal(t, checkpoint.StatusSkipped, rec.Status)
}
