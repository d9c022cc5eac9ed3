package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zforge/zforge/internal/common"
)

func TestExitCodeFor_Nil(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(nil))
}

func TestExitCodeFor_Cancelled(t *testing.T) {
	err := fmt.Errorf("module ISOGeneration: %w", common.ErrCancelled)
	assert.Equal(t, 130, exitCodeFor(err))
}

func TestExitCodeFor_WorkspaceDirty(t *testing.T) {
	err := fmt.Errorf("acquiring workspace: %w", common.ErrMountLeak)
	assert.Equal(t, 3, exitCodeFor(err))
}

func TestExitCodeFor_Validation(t *testing.T) {
	for _, base := range []error{common.ErrValidation, common.ErrUnknownOption, common.ErrMissingRequired} {
		err := fmt.Errorf("loading spec: %w", base)
		assert.Equal(t, 1, exitCodeFor(err))
	}
}

func TestExitCodeFor_GenericModuleError(t *testing.T) {
	err := fmt.Errorf("module Debootstrap: %w", errors.New("apt-get exited 100"))
	assert.Equal(t, 2, exitCodeFor(err))
}
