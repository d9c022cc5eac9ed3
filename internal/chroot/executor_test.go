package chroot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zforge/zforge/internal/common"
)

func TestEnter_SecondAttemptWhileActiveReturnsErrChrootBusy(t *testing.T) {
	ex := New(t.TempDir())
	ex.mu.Lock()
	ex.active = true
	ex.mu.Unlock()

	_, err := ex.Enter("")
	assert.ErrorIs(t, err, common.ErrChrootBusy)
}

func TestEnter_ReleasesActiveFlagOnFailure(t *testing.T) {
	// The temp-dir root lets MkdirAll for the mount targets succeed, but
	// the bind mount itself will fail without root privilege in the test
	// sandbox; either way Enter must not leave the executor permanently
	// marked active.
	ex := New(t.TempDir())
	_, _ = ex.Enter("")
	assert.False(t, ex.active)
}
