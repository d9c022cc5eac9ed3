// Package globalstorage types the installer globalstorage keys frozen by
// spec.md §3 ("InstallerGlobalStorage"). The real globalstorage is owned by
// Calamares's Python runtime; this package is the Go-side wire contract
// those job modules marshal onto stdin when they shell out to this
// pipeline's compiled installer helpers (internal/installer, cmd/zforge-*),
// grounded on the same stdin-JSON handoff used for telemetry
// (internal/telemetry, cmd/zforge-telemetry-submit).
package globalstorage

// PoolCreateRequest is the zfspoolcreate job's stdin payload, covering the
// new_pool branch of spec.md §4.6 and §4.8.
type PoolCreateRequest struct {
	OperationMode          string `json:"zfs_operation_mode"`
	NewPoolName            string `json:"zfs_new_pool_name"`
	InstallDatasetRelative string `json:"zfs_install_dataset_relative"`
	RaidType               string `json:"zfs_raid_type"`
	Disks                  []string `json:"zfs_disks"`
	Ashift                 int    `json:"zfs_ashift"`
	Compression            string `json:"zfs_compression"`
	Recordsize             string `json:"zfs_recordsize"`
	Atime                  bool   `json:"zfs_atime"`
	Xattr                  string `json:"zfs_xattr"`
	Dnodesize              string `json:"zfs_dnodesize"`

	InstallPool    string `json:"install_pool"`
	InstallDataset string `json:"install_dataset"`
	InstallMode    string `json:"install_mode"`

	EncryptionEnabled    bool   `json:"encryption_enabled"`
	EncryptionAlgorithm  string `json:"encryption_algorithm"`
	EncryptionKeyformat  string `json:"encryption_keyformat"`
	EncryptionKeylocation string `json:"encryption_keylocation"`
	EncryptionPassphrase string `json:"encryption_passphrase"`

	AltRoot string `json:"altroot"`
}

// PoolCreateResult is returned on stdout by zforge-pool-create.
type PoolCreateResult struct {
	Pool       string `json:"pool"`
	Dataset    string `json:"dataset"`
	Mountpoint string `json:"mountpoint"`
	Error      string `json:"error,omitempty"`
}

// BootloaderInstallRequest is the zfsbootloader job's stdin payload, per
// spec.md §4.7.
type BootloaderInstallRequest struct {
	RootMountPoint             string `json:"root_mount_point"`
	ZFSBootMenuESPCount        int    `json:"zfsbootmenu_esp_count"`
	OpenCoreEnabled            bool   `json:"opencore_enabled"`
	OpenCoreSecondaryDevice    string `json:"opencore_secondary_device"`
	OpenCorePCIeDevicePath     string `json:"opencore_pcie_device_path"`
	InstalledKernelVersion     string `json:"installed_kernel_version"`
}

// BootloaderInstallResult is returned on stdout by zforge-bootloader-install.
type BootloaderInstallResult struct {
	Error string `json:"error,omitempty"`
}
