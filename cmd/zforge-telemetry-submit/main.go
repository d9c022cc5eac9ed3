// Command zforge-telemetry-submit reads a telemetry.Payload as JSON from
// stdin and POSTs it to the URL given as the sole argument. It is invoked
// by the installer's telemetryjob Calamares module (Python has no access to
// this module's retry/backoff machinery inside the target chroot), and
// always exits 0: telemetry failures must never fail the install.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/zforge/zforge/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.New()

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: zforge-telemetry-submit <endpoint-url>")
		return 0
	}
	endpoint := os.Args[1]

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.WithError(err).Warn("telemetry skipped: could not read payload from stdin")
		return 0
	}

	var payload telemetry.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).Warn("telemetry skipped: malformed payload")
		return 0
	}

	if err := telemetry.Submit(context.Background(), endpoint, payload, log); err != nil {
		log.WithError(err).Warn("telemetry submission failed")
		return 0
	}

	log.Info("telemetry submitted")
	return 0
}
