// Command zforge-bootloader-install reads a
// globalstorage.BootloaderInstallRequest as JSON from stdin and installs
// ZFSBootMenu (and OpenCore, when configured) onto the mounted target,
// regenerating its initramfs. It is invoked by the installer's
// zfsbootloader Calamares module; failure here is fatal to the install.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/globalstorage"
	"github.com/zforge/zforge/internal/installer"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.NewEntry(logrus.New())

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading request from stdin: %v\n", err)
		return 1
	}

	var req globalstorage.BootloaderInstallRequest
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Fprintf(os.Stderr, "malformed bootloader install request: %v\n", err)
		return 1
	}

	result := globalstorage.BootloaderInstallResult{}
	if err := installer.InstallBootloader(context.Background(), req, log); err != nil {
		log.WithError(err).Error("bootloader install failed")
		result.Error = err.Error()
		out, _ := json.Marshal(result)
		fmt.Fprintln(os.Stdout, string(out))
		return 1
	}

	out, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshaling result: %v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stdout, string(out))
	return 0
}
