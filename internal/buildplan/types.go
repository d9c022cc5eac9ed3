// Package buildplan implements the Spec Loader & Validator (spec.md §4.1):
// it parses the YAML build specification, applies defaults, merges hardware
// overlays, validates enumerated options, and produces an in-memory
// BuildPlan for the pipeline runner to walk.
package buildplan

// BuildPlan is the fully validated, normalized build specification.
// Field groups mirror spec.md §3.
type BuildPlan struct {
	Meta     MetaConfig     `yaml:"meta"`
	Builder  BuilderConfig  `yaml:"builder_config"`
	Proxmox  ProxmoxConfig  `yaml:"proxmox_config"`
	ZFS      ZFSConfig      `yaml:"zfs_config"`
	Bootloader BootloaderConfig `yaml:"bootloader_config"`
	Dracut   DracutConfig   `yaml:"dracut_config"`
	Modules  []ModuleEntry  `yaml:"modules"`
	Hardware *HardwareOverlay `yaml:"hardware_overlay,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry_config"`
	SecurityHardeningProfile string `yaml:"security_hardening_profile"`
}

// MetaConfig names and versions the produced image. Not in spec.md's data
// model verbatim; added in SPEC_FULL.md §4 because §4.5.11 requires a
// "build name and version tag" with no other declared source.
type MetaConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// BuilderConfig is the "Base system" field group of spec.md §3.
type BuilderConfig struct {
	Release      string `yaml:"release"`
	Kernel       string `yaml:"kernel"`
	CachePackages bool  `yaml:"cache_packages"`
	WorkspacePath string `yaml:"workspace_path"`
}

// ProxmoxConfig is the "Proxmox" field group of spec.md §3.
type ProxmoxConfig struct {
	Version        string   `yaml:"version"`
	MinimalInstall bool     `yaml:"minimal_install"`
	Packages       []string `yaml:"packages"`
}

// EncryptionDefaults is the "Encryption defaults" part of the "ZFS" field
// group of spec.md §3, grounded on the teacher's internal/disk/luks.go
// Argon2id PBKDF shape, adapted to ZFS's keyformat/PBKDF2 options.
type EncryptionDefaults struct {
	Algorithm      string `yaml:"algorithm"`
	PBKDFIterations int   `yaml:"pbkdf_iterations"`
	PromptPolicy   string `yaml:"prompt_policy"`
}

// ZFSConfig is the "ZFS" field group of spec.md §3.
//
// BuildFromSource is a *bool, not a bool: a plain bool's zero value (false)
// can't be told apart from the user explicitly writing
// "build_from_source: false", and applyDefaults needs that distinction to
// default an unset field to true (spec.md §8 scenario 1) without silently
// overriding an explicit false.
type ZFSConfig struct {
	BuildFromSource  *bool              `yaml:"build_from_source"`
	DefaultCompression string          `yaml:"default_compression"`
	Encryption       EncryptionDefaults `yaml:"encryption"`
}

// OpenCoreConfig is the optional OpenCore sub-block of the "Bootloader"
// field group of spec.md §3.
type OpenCoreConfig struct {
	Enabled            bool     `yaml:"enable_opencore"`
	Drivers            []string `yaml:"drivers"`
	PCIeDevicePathTemplate string `yaml:"pcie_device_path_template"`
}

// BootloaderConfig is the "Bootloader" field group of spec.md §3. Primary is
// fixed to ZFSBootMenu per spec.md and is not a configurable field.
type BootloaderConfig struct {
	OpenCore OpenCoreConfig `yaml:"opencore"`
	UEFI     bool           `yaml:"uefi"`
}

// DracutConfig is the "Dracut" field group of spec.md §3.
type DracutConfig struct {
	Modules     []string `yaml:"modules"`
	Compression string   `yaml:"compression"`
	Hostonly    bool     `yaml:"hostonly"`
	KernelCmdline string `yaml:"kernel_cmdline"`
	ExtraDrivers []string `yaml:"extra_drivers"`
}

// ModuleEntry is one entry of the "Module list" field of spec.md §3: the
// module order is authoritative, enable flags only skip, they never
// reorder (spec.md §3 invariant).
type ModuleEntry struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// HardwareOverlay is the optional per-server preset merged onto BuildPlan
// (spec.md §2, "Out of scope" collaborator; consumed here only as a
// deep-merge overlay, per spec.md §4.1).
type HardwareOverlay struct {
	SerialConsole           bool    `yaml:"serial_console"`
	OpenCorePCIeDevicePath  string  `yaml:"opencore_pcie_device_path"`
	Raw                     map[string]interface{} `yaml:"-"`
}

// TelemetryConfig is the optional telemetry endpoint of spec.md §3.
type TelemetryConfig struct {
	EndpointURL string `yaml:"endpoint_url"`
}

// CanonicalModuleOrder is the authoritative pipeline order from spec.md §2.
// Enable flags may only skip entries from this list; they never reorder it.
var CanonicalModuleOrder = []string{
	"WorkspaceSetup",
	"Debootstrap",
	"KernelAcquisition",
	"ZFSBuild",
	"DracutConfig",
	"ProxmoxIntegration",
	"BootloaderSetup",
	"LiveEnvironment",
	"CalamaresIntegration",
	"SecurityHardening",
	"ISOGeneration",
}
