// Package common holds error kinds and small helpers shared across the
// build pipeline and installer packages.
package common

import "errors"

// Error kinds from spec.md §7. Modules and the pipeline runner wrap these
// with context via fmt.Errorf("...: %w", ...); callers distinguish kinds
// with errors.Is.
var (
	ErrValidation            = errors.New("validation error")
	ErrUnknownOption         = errors.New("unknown option")
	ErrMissingRequired       = errors.New("missing required prerequisite")
	ErrNetwork               = errors.New("network error")
	ErrPackageInstall        = errors.New("package install failed")
	ErrKernelZFSMismatch     = errors.New("zfs build failed against installed kernel headers")
	ErrInitramfsRegen        = errors.New("initramfs regeneration failed")
	ErrIsoAssembly           = errors.New("iso assembly failed")
	ErrChrootBusy            = errors.New("chroot is already in use")
	ErrMountLeak             = errors.New("unmount failed after retries")
	ErrStalled               = errors.New("subprocess produced no output past idle threshold")
	ErrInstallerAssetMissing = errors.New("required installer module asset is missing")
	ErrCancelled             = errors.New("operation cancelled")
)
