package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/globalstorage"
	"github.com/zforge/zforge/internal/subprocess"
)

// minDisksByRaidType mirrors the original zfs_command_builder.py's practical
// minimums (ZFS itself allows smaller raidz vdevs; this pipeline follows the
// original's stricter practical floor).
var minDisksByRaidType = map[string]int{
	"stripe":  1,
	"mirror":  2,
	"raidz1":  2,
	"raidz2":  3,
	"raidz3":  4,
}

func validateRaidAndDisks(raidType string, disks []string) error {
	minDisks, ok := minDisksByRaidType[raidType]
	if !ok {
		return fmt.Errorf("%w: unknown raid_type %q", common.ErrUnknownOption, raidType)
	}
	if len(disks) < minDisks {
		return fmt.Errorf("%w: raid_type %q needs at least %d disk(s), got %d", common.ErrValidation, raidType, minDisks, len(disks))
	}
	return nil
}

func vdevArgs(raidType string, disks []string) []string {
	if raidType == "stripe" {
		return disks
	}
	return append([]string{raidType}, disks...)
}

// BuildCreateArgv builds the zpool create argv for the new_pool branch of
// spec.md §4.6, honoring ashift, compression, recordsize, atime, xattr,
// dnodesize, and (when keylocation is non-empty) native encryption
// properties on the root dataset.
func BuildCreateArgv(req globalstorage.PoolCreateRequest, keylocation string) ([]string, error) {
	if err := ValidatePoolName(req.NewPoolName); err != nil {
		return nil, err
	}
	if err := validateRaidAndDisks(req.RaidType, req.Disks); err != nil {
		return nil, err
	}

	argv := []string{"zpool", "create", "-f"}
	if req.AltRoot != "" {
		argv = append(argv, "-R", req.AltRoot)
	}
	argv = append(argv, "-m", "none")
	if req.Ashift > 0 {
		argv = append(argv, "-o", fmt.Sprintf("ashift=%d", req.Ashift))
	}

	datasetProps := map[string]string{
		"mountpoint": "/",
		"canmount":   "noauto",
		"atime":      boolToken(req.Atime),
	}
	if req.Compression != "" {
		datasetProps["compression"] = req.Compression
	}
	if req.Recordsize != "" {
		datasetProps["recordsize"] = req.Recordsize
	}
	if req.Xattr != "" {
		datasetProps["xattr"] = req.Xattr
	}
	if req.Dnodesize != "" {
		datasetProps["dnodesize"] = req.Dnodesize
	}
	if keylocation != "" {
		datasetProps["encryption"] = req.EncryptionAlgorithm
		datasetProps["keyformat"] = req.EncryptionKeyformat
		datasetProps["keylocation"] = keylocation
	}

	keys := make([]string, 0, len(datasetProps))
	for k := range datasetProps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-O", fmt.Sprintf("%s=%s", k, datasetProps[k]))
	}

	argv = append(argv, req.NewPoolName)
	argv = append(argv, vdevArgs(req.RaidType, req.Disks)...)
	return argv, nil
}

func boolToken(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// BuildDatasetCreateArgv builds a `zfs create -p` argv for a nested dataset
// under pool, e.g. ROOT then ROOT/<distro>, per spec.md §4.6.
func BuildDatasetCreateArgv(pool, relativePath string) []string {
	return []string{"zfs", "create", "-p", pool + "/" + relativePath}
}

// BuildSetPropertyArgv builds a `zfs set key=value` argv.
func BuildSetPropertyArgv(dataset, key, value string) []string {
	return []string{"zfs", "set", fmt.Sprintf("%s=%s", key, value), dataset}
}

// BuildExportArgv and BuildImportArgv implement the export/re-import step
// that locks the target mountpoint before population, per spec.md §4.6.
func BuildExportArgv(pool string) []string {
	return []string{"zpool", "export", pool}
}

func BuildImportArgv(pool, altRoot string) []string {
	return []string{"zpool", "import", "-R", altRoot, pool}
}

// keyfileDir is the tmpfs-backed path spec.md §4.6 requires for the
// ephemeral encryption keyfile.
const keyfileDir = "/run/zforge-keys"

// writeKeyfile creates a 0600 keyfile holding passphrase under dir and
// returns its file:// keylocation URI plus a cleanup func that removes it.
// dir is parameterized for testability; production callers pass keyfileDir.
func writeKeyfile(dir, passphrase string) (keylocation string, cleanup func() error, err error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, err
	}
	f, err := os.CreateTemp(dir, "poolkey-*")
	if err != nil {
		return "", nil, err
	}
	path := f.Name()
	if _, err := f.WriteString(passphrase); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		os.Remove(path)
		return "", nil, err
	}
	return "file://" + path, func() error { return os.Remove(path) }, nil
}

// UseExistingPool runs the existing_pool branch of spec.md §4.6: creates
// (or, for install_mode "replace", recreates) the install dataset under an
// already-imported pool, applies whichever properties were set, and
// exports/re-imports at altRoot once before population. It never builds a
// zpool create argv: the pool already exists.
func UseExistingPool(ctx context.Context, req globalstorage.PoolCreateRequest) (globalstorage.PoolCreateResult, error) {
	if err := ValidatePoolName(req.InstallPool); err != nil {
		return globalstorage.PoolCreateResult{}, err
	}
	dataset := req.InstallDataset
	if dataset == "" {
		dataset = "ROOT/pve"
	}
	installDataset := req.InstallPool + "/" + dataset

	switch req.InstallMode {
	case "replace":
		if _, err := subprocess.Run(ctx, []string{"zfs", "destroy", "-r", installDataset}, subprocess.Options{}); err != nil {
			return globalstorage.PoolCreateResult{}, fmt.Errorf("%w: destroying %s for replace: %v", common.ErrValidation, installDataset, err)
		}
		fallthrough
	case "new", "alongside", "":
		if _, err := subprocess.Run(ctx, BuildDatasetCreateArgv(req.InstallPool, dataset), subprocess.Options{}); err != nil {
			return globalstorage.PoolCreateResult{}, fmt.Errorf("creating %s: %w", installDataset, err)
		}
	default:
		return globalstorage.PoolCreateResult{}, fmt.Errorf("%w: unknown install_mode %q", common.ErrUnknownOption, req.InstallMode)
	}

	for _, prop := range []struct{ key, value string }{
		{"compression", req.Compression},
		{"recordsize", req.Recordsize},
		{"xattr", req.Xattr},
		{"dnodesize", req.Dnodesize},
	} {
		if prop.value == "" {
			continue
		}
		if _, err := subprocess.Run(ctx, BuildSetPropertyArgv(installDataset, prop.key, prop.value), subprocess.Options{}); err != nil {
			return globalstorage.PoolCreateResult{}, fmt.Errorf("setting %s on %s: %w", prop.key, installDataset, err)
		}
	}

	if req.AltRoot != "" {
		if _, err := subprocess.Run(ctx, BuildExportArgv(req.InstallPool), subprocess.Options{}); err != nil {
			return globalstorage.PoolCreateResult{}, fmt.Errorf("exporting pool: %w", err)
		}
		if _, err := subprocess.Run(ctx, BuildImportArgv(req.InstallPool, req.AltRoot), subprocess.Options{}); err != nil {
			return globalstorage.PoolCreateResult{}, fmt.Errorf("re-importing pool: %w", err)
		}
	}

	return globalstorage.PoolCreateResult{
		Pool:       req.InstallPool,
		Dataset:    installDataset,
		Mountpoint: "/",
	}, nil
}

// CreatePool runs the full new_pool sequence of spec.md §4.6: validates the
// request, creates the pool (via a keyfile when encryption is enabled),
// carves the nested ROOT/<distro> dataset, relocks keylocation to "prompt",
// and exports/re-imports the pool at altRoot once before population.
func CreatePool(ctx context.Context, req globalstorage.PoolCreateRequest) (globalstorage.PoolCreateResult, error) {
	var keylocation string
	var cleanup func() error
	if req.EncryptionEnabled {
		loc, c, err := writeKeyfile(keyfileDir, req.EncryptionPassphrase)
		if err != nil {
			return globalstorage.PoolCreateResult{}, fmt.Errorf("%w: writing keyfile: %v", common.ErrValidation, err)
		}
		keylocation, cleanup = loc, c
		defer func() {
			if cleanup != nil {
				_ = cleanup()
			}
		}()
	}

	argv, err := BuildCreateArgv(req, keylocation)
	if err != nil {
		return globalstorage.PoolCreateResult{}, err
	}
	if _, err := subprocess.Run(ctx, argv, subprocess.Options{}); err != nil {
		return globalstorage.PoolCreateResult{}, fmt.Errorf("creating pool: %w", err)
	}

	relative := req.InstallDatasetRelative
	if relative == "" {
		relative = "ROOT/pve"
	}
	rootDataset := req.NewPoolName + "/" + filepath.Dir(relative)
	if filepath.Dir(relative) == "." {
		rootDataset = req.NewPoolName
	} else if _, err := subprocess.Run(ctx, BuildDatasetCreateArgv(req.NewPoolName, filepath.Dir(relative)), subprocess.Options{}); err != nil {
		return globalstorage.PoolCreateResult{}, fmt.Errorf("creating %s: %w", rootDataset, err)
	}

	installDataset := req.NewPoolName + "/" + relative
	if _, err := subprocess.Run(ctx, BuildDatasetCreateArgv(req.NewPoolName, relative), subprocess.Options{}); err != nil {
		return globalstorage.PoolCreateResult{}, fmt.Errorf("creating %s: %w", installDataset, err)
	}

	if req.EncryptionEnabled {
		if _, err := subprocess.Run(ctx, BuildSetPropertyArgv(req.NewPoolName, "keylocation", "prompt"), subprocess.Options{}); err != nil {
			return globalstorage.PoolCreateResult{}, fmt.Errorf("relocking keylocation: %w", err)
		}
	}

	if req.AltRoot != "" {
		if _, err := subprocess.Run(ctx, BuildExportArgv(req.NewPoolName), subprocess.Options{}); err != nil {
			return globalstorage.PoolCreateResult{}, fmt.Errorf("exporting pool: %w", err)
		}
		if _, err := subprocess.Run(ctx, BuildImportArgv(req.NewPoolName, req.AltRoot), subprocess.Options{}); err != nil {
			return globalstorage.PoolCreateResult{}, fmt.Errorf("re-importing pool: %w", err)
		}
	}

	return globalstorage.PoolCreateResult{
		Pool:       req.NewPoolName,
		Dataset:    installDataset,
		Mountpoint: "/",
	}, nil
}
