package installer

import (
	"fmt"

	"github.com/zforge/zforge/internal/common"
)

// State is one step of the pool-creation-mode installer UI state machine,
// per spec.md §4.8.
type State string

const (
	StateModeSelect          State = "mode_select"
	StateDisksSelected       State = "disks_selected"
	StateRaidSelected        State = "raid_selected"
	StatePropertiesSet       State = "properties_set"
	StateEncryptionSet       State = "encryption_set"
	StatePoolSelected        State = "pool_selected"
	StateInstallModeSelected State = "install_mode_selected"
	StateConfirmed           State = "confirmed"
)

// newPoolPath and existingPoolPath are spec.md §4.8's two forward paths.
// EncryptionSet (new_pool) and PropertiesSet (existing_pool) are optional:
// Advance permits skipping straight from the preceding mandatory state to
// Confirmed.
var newPoolPath = []State{StateDisksSelected, StateRaidSelected, StatePropertiesSet, StateEncryptionSet, StateConfirmed}
var existingPoolPath = []State{StatePoolSelected, StateInstallModeSelected, StatePropertiesSet, StateConfirmed}

// StateMachine tracks the current step and a back-transition history for
// one pool-creation-mode session. It holds no field data itself — per
// spec.md §4.8, "back transitions reopen inputs without data loss" refers
// to the UI's own form state, which this machine does not own.
type StateMachine struct {
	mode    string // "new_pool" or "existing_pool", set by SelectMode
	current State
	history []State
}

// NewStateMachine starts a session at mode_select.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateModeSelect}
}

// Current returns the active state.
func (sm *StateMachine) Current() State { return sm.current }

// SelectMode transitions out of mode_select into the first state of the
// chosen path.
func (sm *StateMachine) SelectMode(mode string) error {
	if sm.current != StateModeSelect {
		return fmt.Errorf("%w: select_mode is only valid from mode_select, currently at %s", common.ErrValidation, sm.current)
	}
	path, err := pathFor(mode)
	if err != nil {
		return err
	}
	sm.mode = mode
	sm.history = append(sm.history, sm.current)
	sm.current = path[0]
	return nil
}

// Advance moves to next if it is the immediate successor of the current
// state on the selected mode's path, or if next is Confirmed and current
// already sits on or past the last mandatory (non-optional) state.
func (sm *StateMachine) Advance(next State) error {
	path, err := pathFor(sm.mode)
	if err != nil {
		return err
	}

	idx := indexOf(path, sm.current)
	if idx < 0 {
		return fmt.Errorf("%w: %s is not on the %s path", common.ErrValidation, sm.current, sm.mode)
	}

	if idx+1 < len(path) && path[idx+1] == next {
		sm.history = append(sm.history, sm.current)
		sm.current = next
		return nil
	}

	if next == StateConfirmed && idx >= len(path)-3 {
		sm.history = append(sm.history, sm.current)
		sm.current = StateConfirmed
		return nil
	}

	return fmt.Errorf("%w: cannot advance from %s to %s on the %s path", common.ErrValidation, sm.current, next, sm.mode)
}

// Back pops the most recent transition, including back out of Confirmed.
func (sm *StateMachine) Back() error {
	if len(sm.history) == 0 {
		return fmt.Errorf("%w: no prior state to return to", common.ErrValidation)
	}
	sm.current = sm.history[len(sm.history)-1]
	sm.history = sm.history[:len(sm.history)-1]
	return nil
}

func pathFor(mode string) ([]State, error) {
	switch mode {
	case "new_pool":
		return newPoolPath, nil
	case "existing_pool":
		return existingPoolPath, nil
	default:
		return nil, fmt.Errorf("%w: unknown pool-creation mode %q", common.ErrUnknownOption, mode)
	}
}

func indexOf(path []State, s State) int {
	for i, v := range path {
		if v == s {
			return i
		}
	}
	return -1
}
