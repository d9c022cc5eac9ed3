package module

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/buildplan"
	"github.com/zforge/zforge/internal/chroot"
	"github.com/zforge/zforge/internal/checkpoint"
	"github.com/zforge/zforge/internal/common"
	"github.com/zforge/zforge/internal/subprocess"
	"github.com/zforge/zforge/internal/workspace"
)

const openzfsFallbackVersion = "2.2.4"
const openzfsRepo = "https://github.com/openzfs/zfs.git"

var zfsBuildDeps = []string{
	"build-essential", "autoconf", "automake", "libtool", "gawk", "dkms",
	"libblkid-dev", "uuid-dev", "libudev-dev", "libssl-dev", "zlib1g-dev",
	"libaio-dev", "libattr1-dev", "libelf-dev", "python3-dev", "git",
}

// zfsBuildResumeData is ZFSBuild's opaque resume payload: the ZFS version
// string that was installed, per spec.md §4.5.4.
type zfsBuildResumeData struct {
	Version    string `json:"version"`
	FromSource bool   `json:"from_source"`
}

// ZFSBuild either installs ZFS via DKMS or builds OpenZFS from source
// against the installed kernel, grounded on the original zfs_build.py
// module.
type ZFSBuild struct{}

func (ZFSBuild) Name() string { return "ZFSBuild" }

func (ZFSBuild) Execute(ctx context.Context, plan *buildplan.BuildPlan, ws *workspace.Workspace, resumeData json.RawMessage) (Result, error) {
	log := logrus.WithField("module", "ZFSBuild")

	ex := chroot.New(ws.Chroot())
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

	buildFromSource := plan.ZFS.BuildFromSource != nil && *plan.ZFS.BuildFromSource

	var version string
	if buildFromSource {
		version, err = buildZFSFromSource(ctx, sess, log)
	} else {
		version, err = installZFSViaDKMS(ctx, sess, log)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", common.ErrKernelZFSMismatch, err)
	}

	// modprobe validation is best-effort: the build host kernel may differ
	// from the chroot's, per spec.md §4.5.4.
	if _, err := sess.Run(ctx, []string{"modprobe", "zfs"}, nil, nil); err != nil {
		log.WithError(err).Warn("modprobe zfs failed inside chroot, deferring validation to initramfs generation")
	}

	resume, _ := json.Marshal(zfsBuildResumeData{Version: version, FromSource: buildFromSource})
	log.WithField("version", version).Info("zfs installed")
	return Result{Status: checkpoint.StatusSuccess, ResumeData: resume}, nil
}

func installZFSViaDKMS(ctx context.Context, sess *chroot.Session, log *logrus.Entry) (string, error) {
	argv := []string{"bash", "-c", "apt-get update && apt-get install -y zfs-dkms zfsutils-linux"}
	if _, err := sess.Run(ctx, argv, nil, nil); err != nil {
		return "", err
	}
	res, err := sess.Run(ctx, []string{"dpkg-query", "-W", "-f=${Version}", "zfsutils-linux"}, nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func buildZFSFromSource(ctx context.Context, sess *chroot.Session, log *logrus.Entry) (string, error) {
	depInstall := fmt.Sprintf("apt-get update && apt-get install -y %s", strings.Join(zfsBuildDeps, " "))
	if _, err := sess.Run(ctx, []string{"bash", "-c", depInstall}, nil, nil); err != nil {
		return "", err
	}

	version := openzfsFallbackVersion
	err := subprocess.WithRetry(ctx, subprocess.DefaultRetryConfig, log, func() error {
		res, err := sess.Run(ctx, []string{"bash", "-c",
			fmt.Sprintf("git ls-remote --tags --refs %s | grep -E 'refs/tags/zfs-[0-9]+\\.[0-9]+\\.[0-9]+$' | tail -1 | sed 's#.*refs/tags/zfs-##'", openzfsRepo)},
			nil, nil)
		if err != nil {
			return err
		}
		if v := strings.TrimSpace(res.Stdout); v != "" {
			version = v
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("could not resolve latest OpenZFS tag, using fallback")
	}

	buildScript := fmt.Sprintf(`set -e
cd /usr/src
rm -rf zfs
git clone --depth 1 --branch zfs-%s %s
cd zfs
./autogen.sh
./configure --prefix=/usr --enable-systemd --enable-pyzfs --with-python=3
make -j"$(nproc)"
make install
make deb-dkms
dpkg -i *.deb || apt-get -f install -y
`, version, openzfsRepo)

	if err := subprocess.WithRetry(ctx, subprocess.DefaultRetryConfig, log, func() error {
		_, runErr := sess.Run(ctx, []string{"bash", "-c", buildScript}, nil, nil)
		return runErr
	}); err != nil {
		return "", err
	}

	return version, nil
}
