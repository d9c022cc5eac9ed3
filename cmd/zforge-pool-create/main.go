// Command zforge-pool-create reads a globalstorage.PoolCreateRequest as
// JSON from stdin, creates the requested ZFS pool and install dataset (or
// prepares the install dataset on an existing pool), and writes a
// globalstorage.PoolCreateResult as
// JSON to stdout. It does not mount the install dataset explicitly. It is
// invoked by the installer's zfspoolcreate Calamares
// module. Unlike zforge-telemetry-submit, failure here is fatal: a non-zero
// exit means there is no target for unpack to populate.
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
	log := logrus.New()

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading request from stdin: %v\n", err)
		return 1
	}

	var req globalstorage.PoolCreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Fprintf(os.Stderr, "malformed pool create request: %v\n", err)
		return 1
	}

	var result globalstorage.PoolCreateResult
	var opErr error
	if req.OperationMode == "existing_pool" {
		result, opErr = installer.UseExistingPool(context.Background(), req)
	} else {
		result, opErr = installer.CreatePool(context.Background(), req)
	}

	if opErr != nil {
		log.WithError(opErr).Error("pool setup failed")
		result.Error = opErr.Error()
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
