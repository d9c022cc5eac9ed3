// Package calamaresassets embeds the source trees for the custom Calamares
// installer modules this pipeline ships, grounded on the teacher's
// vendor/github.com/osbuild/images/pkg/distro/packagesets loader.go
// go:embed pattern.
package calamaresassets

import "embed"

//go:embed modules
var Modules embed.FS

// RequiredModules is spec.md §4.5.9's fixed module list, in no particular
// order, plus zfspoolcreate (see DESIGN.md's Open Question decision on why
// the exec sequence needs a pool-creation job §4.5.9 doesn't enumerate).
// Sequencing itself is determined separately by the show/exec sequences.
var RequiredModules = []string{
	"zfspooldetect",
	"zfsrootselect",
	"zfspoolcreate",
	"zfsbootloader",
	"proxmoxconfig",
	"zforgefinalize",
	"securityhardening",
	"telemetryconsent",
	"telemetryjob",
}
