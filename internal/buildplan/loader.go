package buildplan

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/zforge/zforge/internal/common"
)

// enumeratedSections lists the top-level keys whose sub-keys are validated
// strictly (spec.md §4.1): any key under one of these not in its allow-list
// is a fatal ErrUnknownOption. Every other top-level key is tolerated with a
// logged warning if unrecognized.
var enumeratedSections = map[string]map[string]bool{
	"builder_config": {
		"release": true, "kernel": true, "cache_packages": true, "workspace_path": true,
	},
	"zfs_config": {
		"build_from_source": true, "default_compression": true, "encryption": true,
	},
	"bootloader_config": {
		"opencore": true, "uefi": true,
	},
	"dracut_config": {
		"modules": true, "compression": true, "hostonly": true, "kernel_cmdline": true, "extra_drivers": true,
	},
}

var knownTopLevel = map[string]bool{
	"meta": true, "builder_config": true, "proxmox_config": true, "zfs_config": true,
	"bootloader_config": true, "dracut_config": true, "modules": true,
	"hardware_overlay": true, "telemetry_config": true, "security_hardening_profile": true,
}

// Load reads, validates, and normalizes a build specification file, then
// deep-merges in any overlay files in the order given (later overlays win),
// per spec.md §4.1.
func Load(path string, overlayPaths ...string) (*BuildPlan, error) {
	plan, err := loadOne(path)
	if err != nil {
		return nil, err
	}

	for _, overlayPath := range overlayPaths {
		overlay, err := loadOne(overlayPath)
		if err != nil {
			return nil, fmt.Errorf("overlay %s: %w", overlayPath, err)
		}
		mergeBuildPlan(plan, overlay)
	}

	if plan.Hardware != nil {
		applyHardwareOverlay(plan, plan.Hardware)
	}

	applyDefaults(plan)

	if err := Validate(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func loadOne(path string) (*BuildPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", common.ErrValidation, path, err)
	}

	var root yaml.Node
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrValidation, path, err)
		}
	}

	if err := checkSections(&root, path); err != nil {
		return nil, err
	}

	plan := &BuildPlan{}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, plan); err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %v", common.ErrValidation, path, err)
		}
	}
	return plan, nil
}

// checkSections walks the raw document tree (before struct decode) to
// enforce spec.md §4.1's two-tier unknown-key policy.
func checkSections(root *yaml.Node, path string) error {
	if root.Kind == 0 {
		return nil
	}
	doc := root
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil
		}
		doc = root.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(doc.Content); i += 2 {
		keyNode := doc.Content[i]
		valNode := doc.Content[i+1]
		key := keyNode.Value

		if !knownTopLevel[key] {
			logrus.WithField("file", path).Warnf("unrecognized top-level section %q, ignoring", key)
			continue
		}

		allowed, enumerated := enumeratedSections[key]
		if !enumerated {
			continue
		}
		if err := checkMappingKeys(valNode, key, allowed); err != nil {
			return err
		}
	}
	return nil
}

func checkMappingKeys(node *yaml.Node, section string, allowed map[string]bool) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !allowed[key] {
			return fmt.Errorf("%w: %s.%s", common.ErrUnknownOption, section, key)
		}
	}
	return nil
}
