package buildplan

import (
	"fmt"
	"regexp"

	"github.com/zforge/zforge/internal/common"
)

var raidTypes = map[string]bool{
	"stripe": true, "mirror": true, "raidz1": true, "raidz2": true, "raidz3": true,
}

var ashiftValues = map[string]bool{
	"auto": true, "9": true, "12": true, "13": true,
}

var plainCompression = map[string]bool{
	"lz4": true, "zstd": true, "gzip": true, "off": true,
}

var numberedCompression = regexp.MustCompile(`^(zstd|gzip)-([0-9]{1,2})$`)

// ValidateCompression checks a ZFS/dracut compression token against spec.md
// §4.1's enum: lz4, zstd, zstd-N (1..19), gzip, gzip-N, off.
func ValidateCompression(v string) error {
	if plainCompression[v] {
		return nil
	}
	m := numberedCompression.FindStringSubmatch(v)
	if m == nil {
		return fmt.Errorf("%w: compression %q", common.ErrValidation, v)
	}
	n := 0
	fmt.Sscanf(m[2], "%d", &n)
	if n < 1 || n > 19 {
		return fmt.Errorf("%w: compression level out of range %q", common.ErrValidation, v)
	}
	return nil
}

// ValidateRAIDType checks a pool RAID token against spec.md §4.1's enum.
func ValidateRAIDType(v string) error {
	if !raidTypes[v] {
		return fmt.Errorf("%w: raid type %q", common.ErrValidation, v)
	}
	return nil
}

// ValidateAshift checks an ashift token against spec.md §4.1's enum.
func ValidateAshift(v string) error {
	if !ashiftValues[v] {
		return fmt.Errorf("%w: ashift %q", common.ErrValidation, v)
	}
	return nil
}

// ValidateARCMax checks an ARC max token: the literal "auto" or a byte
// quantity parseable by common.ParseByteSize.
func ValidateARCMax(v string) error {
	if v == "auto" || v == "" {
		return nil
	}
	_, err := common.ParseByteSize(v)
	if err != nil {
		return fmt.Errorf("%w: arc_max %q: %v", common.ErrValidation, v, err)
	}
	return nil
}

// Validate checks enumerated fields of a decoded, default-filled BuildPlan.
// Returns a ValidationErrors aggregating every offending field, per
// spec.md §4.1 ("a validation failure with a list of offending fields").
func Validate(p *BuildPlan) error {
	var errs ValidationErrors

	if err := ValidateCompression(p.ZFS.DefaultCompression); err != nil {
		errs = append(errs, fmt.Errorf("zfs_config.default_compression: %w", err))
	}
	if err := ValidateCompression(p.Dracut.Compression); err != nil {
		errs = append(errs, fmt.Errorf("dracut_config.compression: %w", err))
	}
	switch p.SecurityHardeningProfile {
	case "baseline", "server", "none":
	default:
		errs = append(errs, fmt.Errorf("security_hardening_profile: %w: %q", common.ErrValidation, p.SecurityHardeningProfile))
	}
	if len(p.Modules) == 0 {
		errs = append(errs, fmt.Errorf("modules: %w", common.ErrMissingRequired))
	}
	for _, m := range p.Modules {
		if !common.IsStringInSortedSlice(sortedCanonicalModules, m.Name) {
			errs = append(errs, fmt.Errorf("modules: %w: %q", common.ErrUnknownOption, m.Name))
		}
	}

	if len(errs) > 0 {
		return &errs
	}
	return nil
}

var sortedCanonicalModules = func() []string {
	out := append([]string(nil), CanonicalModuleOrder...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}()

// ValidationErrors aggregates every offending field found during Validate,
// so the CLI can print all of them instead of stopping at the first.
type ValidationErrors []error

func (e *ValidationErrors) Error() string {
	if len(*e) == 1 {
		return (*e)[0].Error()
	}
	s := fmt.Sprintf("%d validation errors:", len(*e))
	for _, err := range *e {
		s += "\n  - " + err.Error()
	}
	return s
}

func (e *ValidationErrors) Unwrap() []error {
	return *e
}
