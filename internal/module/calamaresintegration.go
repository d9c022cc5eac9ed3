package module

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/chroot"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/module/calamaresassets"
	"github.com/zforge/zforge/internal/workspace"
)

var calamaresPackages = []string{
	"calamares", "calamares-settings-debian",
	"xfce4", "xfce4-terminal", "lightdm", "lightdm-gtk-greeter",
	"network-manager-gnome", "gparted",
	"python3-pyqt5", "python3-yaml", "python3-jsonschema",
}

// showSequence and execSequence follow spec.md §4.5.9's fixed installer
// sequencing, with one addition: zfspoolcreate runs before unpack because
// unpack has nowhere to populate until a pool is created or an existing one
// is mounted at the target root (see DESIGN.md's Open Question decision on
// this). telemetryjob is pinned last in execSequence, as named in §4.5.9.
var showSequence = []string{
	"welcome", "locale", "keyboard", "telemetryconsent", "network", "partition", "zfsrootselect", "users", "summary",
}

var execSequence = []string{
	"zfspoolcreate", "unpack", "fstab", "users", "networkcfg", "bootloader",
	"zfsbootloader", "proxmoxconfig", "securityhardening", "zforgefinalize", "telemetryjob",
}

// moduleInstances pairs each custom module's Calamares instance id with its
// module name; the rest of execSequence (unpack, fstab, users, ...) are
// Calamares's own stock modules and need no instance entry here.
var moduleInstances = []string{
	"zfspooldetect", "zfsrootselect", "zfspoolcreate", "zfsbootloader", "proxmoxconfig",
	"securityhardening", "zforgefinalize", "telemetryconsent", "telemetryjob",
}

// calamaresResumeData is CalamaresIntegration's opaque resume payload.
type calamaresResumeData struct {
	Modules []string `json:"modules"`
}

// CalamaresIntegration installs the installer framework, copies the
// embedded custom installer modules into the live rootfs, and composes the
// installer sequence, grounded on the original calamares_integration.py
// module's install/copy/configure steps.
type CalamaresIntegration struct{}

func (CalamaresIntegration) Name() string { return "CalamaresIntegration" }

func (CalamaresIntegration) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	log := logrus.WithField("module", "CalamaresIntegration")
	chrootPath := ws.Chroot()

	if err := checkRequiredModulesPresent(); err != nil {
		return Result{}, err
	}

	ex := chroot.New(chrootPath)
	cacheDir := ""
	if plan.Builder.CachePackages {
		cacheDir = ws.Cache()
	}
	sess, err := ex.Enter(cacheDir)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if relErr := sess.Release(); relErr != nil {
			log.WithError(relErr).Error("releasing chroot session")
		}
	}()

	install := fmt.Sprintf("apt-get update && apt-get install -y %s", strings.Join(calamaresPackages, " "))
	if _, err := sess.Run(ctx, []string{"bash", "-c", install}, nil, nil); err != nil {
		return Result{}, fmt.Errorf("%w: installing calamares: %v", common.ErrPackageInstall, err)
	}

	if err := installCustomModules(chrootPath); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrInstallerAssetMissing, err)
	}

	if err := writeCalamaresSettings(chrootPath, plan); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	if err := writeCalamaresBranding(chrootPath, plan); err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	resume, _ := json.Marshal(calamaresResumeData{Modules: calamaresassets.RequiredModules})
	log.Info("calamares integrated")
	return Result{Status: checkpoint.StatusSuccess, ResumeData: resume}, nil
}

// checkRequiredModulesPresent fails early, before any chroot work, if the
// embedded asset tree is missing a required module's descriptor.
func checkRequiredModulesPresent() error {
	for _, name := range calamaresassets.RequiredModules {
		descPath := filepath.Join("modules", name, "module.desc")
		if _, err := calamaresassets.Modules.Open(descPath); err != nil {
			return fmt.Errorf("%w: %s", common.ErrInstallerAssetMissing, name)
		}
	}
	return nil
}

func installCustomModules(chrootPath string) error {
	dst := filepath.Join(chrootPath, "usr", "lib", "calamares", "modules")
	return fs.WalkDir(calamaresassets.Modules, "modules", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("modules", path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		data, err := calamaresassets.Modules.ReadFile(path)
		if err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if filepath.Ext(path) == ".py" {
			mode = 0o755
		}
		return os.WriteFile(target, data, mode)
	})
}

func writeCalamaresSettings(chrootPath string, plan *buildplan.BuildPlan) error {
	instances := make([]map[string]string, 0, len(moduleInstances))
	for _, name := range moduleInstances {
		instances = append(instances, map[string]string{"id": name, "module": name})
	}

	settings := map[string]interface{}{
		"modules-search": []string{"local"},
		"instances":      instances,
		"sequence": []map[string][]string{
			{"show": showSequence},
			{"exec": execSequence},
		},
		"branding":                   "zforge",
		"prompt-install":             true,
		"dont-chroot":                false,
		"oem-setup":                  false,
		"disable-cancel":             false,
		"disable-cancel-during-exec": true,
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}

	path := filepath.Join(chrootPath, "etc", "calamares", "settings.conf")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return err
	}

	if plan.Telemetry.EndpointURL != "" {
		endpointConf := filepath.Join(chrootPath, "etc", "calamares", "zforge-telemetry-endpoint.conf")
		if err := os.WriteFile(endpointConf, []byte(plan.Telemetry.EndpointURL+"\n"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func writeCalamaresBranding(chrootPath string, plan *buildplan.BuildPlan) error {
	branding := map[string]interface{}{
		"componentName":         "zforge",
		"welcomeStyleCalamares": false,
		"welcomeExpandingLogo":  true,
		"windowExpanding":       "normal",
		"windowSize":            "800,600",
		"strings": map[string]string{
			"productName":      plan.Meta.Name,
			"shortProductName": plan.Meta.Name,
			"version":          plan.Meta.Version,
			"shortVersion":     plan.Meta.Version,
		},
		"images": map[string]string{
			"productLogo":     "logo.png",
			"productIcon":     "icon.png",
			"productWelcome":  "welcome.png",
		},
		"style": map[string]string{
			"sidebarBackground":    "#292F34",
			"sidebarText":          "#FFFFFF",
			"sidebarTextSelect":    "#292F34",
			"sidebarTextHighlight": "#D35400",
		},
	}

	out, err := yaml.Marshal(branding)
	if err != nil {
		return err
	}

	dir := filepath.Join(chrootPath, "etc", "calamares", "branding", "zforge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "branding.desc"), out, 0o644); err != nil {
		return err
	}
	for _, img := range []string{"logo.png", "icon.png", "welcome.png"} {
		if err := os.WriteFile(filepath.Join(dir, img), []byte{}, 0o644); err != nil {
			return err
		}
	}
	return nil
}
