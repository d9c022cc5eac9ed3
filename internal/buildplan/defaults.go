package buildplan

import "github.com/zforge/zforge/internal/common"

// Defaults per spec.md §4.1.
const (
	DefaultRelease          = "bookworm"
	DefaultKernel           = "latest"
	DefaultZFSCompression   = "lz4"
	DefaultDracutCompression = "zstd"
	DefaultSecurityProfile  = "baseline"
	DefaultMetaName         = "zforge"
	DefaultMetaVersion      = "dev"
)

// applyDefaults fills zero-valued fields with the spec.md §4.1 defaults.
// Called after YAML decode, before validation.
func applyDefaults(p *BuildPlan) {
	if p.Builder.Release == "" {
		p.Builder.Release = DefaultRelease
	}
	if p.Builder.Kernel == "" {
		p.Builder.Kernel = DefaultKernel
	}
	if p.ZFS.BuildFromSource == nil {
		p.ZFS.BuildFromSource = common.ToPtr(true)
	}
	if p.ZFS.DefaultCompression == "" {
		p.ZFS.DefaultCompression = DefaultZFSCompression
	}
	if p.Dracut.Compression == "" {
		p.Dracut.Compression = DefaultDracutCompression
	}
	if p.SecurityHardeningProfile == "" {
		p.SecurityHardeningProfile = DefaultSecurityProfile
	}
	if p.Meta.Name == "" {
		p.Meta.Name = DefaultMetaName
	}
	if p.Meta.Version == "" {
		p.Meta.Version = DefaultMetaVersion
	}
	// Only an absent module list gets the canonical default; an explicit
	// empty list is left for Validate to reject.
	if p.Modules == nil {
		p.Modules = make([]ModuleEntry, 0, len(CanonicalModuleOrder))
		for _, name := range CanonicalModuleOrder {
			p.Modules = append(p.Modules, ModuleEntry{Name: name, Enabled: true})
		}
	}
	if p.Dracut.KernelCmdline == "" {
		p.Dracut.KernelCmdline = "root=zfs:AUTO"
	}
}
