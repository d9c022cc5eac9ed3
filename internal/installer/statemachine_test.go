package installer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_NewPoolHappyPath(t *testing.T) {
	sm := NewStateMachine()
	assert.Equal(t, StateModeSelect, sm.Current())

	require.NoError(t, sm.SelectMode("new_pool"))
	assert.Equal(t, StateDisksSelected, sm.Current())

	require.NoError(t, sm.Advance(StateRaidSelected))
	require.NoError(t, sm.Advance(StatePropertiesSet))
	require.NoError(t, sm.Advance(StateEncryptionSet))
	require.NoError(t, sm.Advance(StateConfirmed))
	assert.Equal(t, StateConfirmed, sm.Current())
}

func TestStateMachine_NewPoolSkipsOptionalEncryptionStep(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.SelectMode("new_pool"))
	require.NoError(t, sm.Advance(StateRaidSelected))
	require.NoError(t, sm.Advance(StatePropertiesSet))
	require.NoError(t, sm.Advance(StateConfirmed))
	assert.Equal(t, StateConfirmed, sm.Current())
}

func TestStateMachine_ExistingPoolHappyPath(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.SelectMode("existing_pool"))
	assert.Equal(t, StatePoolSelected, sm.Current())

	require.NoError(t, sm.Advance(StateInstallModeSelected))
	require.NoError(t, sm.Advance(StatePropertiesSet))
	require.NoError(t, sm.Advance(StateConfirmed))
	assert.Equal(t, StateConfirmed, sm.Current())
}

func TestStateMachine_ExistingPoolSkipsOptionalPropertiesStep(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.SelectMode("existing_pool"))
	require.NoError(t, sm.Advance(StateInstallModeSelected))
	require.NoError(t, sm.Advance(StateConfirmed))
	assert.Equal(t, StateConfirmed, sm.Current())
}

func TestStateMachine_SelectModeOnlyValidFromModeSelect(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.SelectMode("new_pool"))
	assert.Error(t, sm.SelectMode("existing_pool"))
}

func TestStateMachine_RejectsUnknownMode(t *testing.T) {
	sm := NewStateMachine()
	assert.Error(t, sm.SelectMode("bogus_mode"))
}

func TestStateMachine_RejectsSkippingAMandatoryState(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.SelectMode("new_pool"))
	assert.Error(t, sm.Advance(StateConfirmed))
}

func TestStateMachine_BackFromAnyStateReturnsToPrevious(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.SelectMode("new_pool"))
	require.NoError(t, sm.Advance(StateRaidSelected))

	require.NoError(t, sm.Back())
	assert.Equal(t, StateDisksSelected, sm.Current())

	require.NoError(t, sm.Back())
	assert.Equal(t, StateModeSelect, sm.Current())
}

func TestStateMachine_BackFromConfirmedReopensInputs(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.SelectMode("new_pool"))
	require.NoError(t, sm.Advance(StateRaidSelected))
	require.NoError(t, sm.Advance(StatePropertiesSet))
	require.NoError(t, sm.Advance(StateConfirmed))

	require.NoError(t, sm.Back())
	assert.Equal(t, StatePropertiesSet, sm.Current())
}

func TestStateMachine_BackWithoutHistoryErrors(t *testing.T) {
	sm := NewStateMachine()
	assert.Error(t, sm.Back())
}
