// Package installer implements the Installer-Side Contract (spec.md §4.6,
// §4.7): pool creation argv building, the pool-creation-mode state machine,
// and bootloader install onto a mounted target. Grounded on the original
// builder/utils/zfs_command_builder.py argv builder and
// builder/modules/bootloader_support.py's EFI/efibootmgr steps.
package installer

import (
	"fmt"
	"regexp"

	"github.com/zforge/zforge/internal/common"
)

// poolNamePattern enforces spec.md §4.6: "alphanumeric plus _-., must begin
// with a letter, no trailing hyphen".
var poolNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// ValidatePoolName rejects syntactically invalid ZFS pool names before any
// zpool command is built, per spec.md §4.6.
func ValidatePoolName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: pool name is empty", common.ErrValidation)
	}
	if !poolNamePattern.MatchString(name) {
		return fmt.Errorf("%w: pool name %q must start with a letter and contain only letters, digits, '_', '-', '.'", common.ErrValidation, name)
	}
	if name[len(name)-1] == '-' {
		return fmt.Errorf("%w: pool name %q must not end with a hyphen", common.ErrValidation, name)
	}
	return nil
}
