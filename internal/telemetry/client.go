package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// timeout bounds the entire submission, per spec.md §6's 10 s ceiling.
const timeout = 10 * time.Second

// leveledLogrus adapts *logrus.Logger to retryablehttp.LeveledLogger,
// grounded on the teacher's cmd/osbuild-worker/rh-logrus-adapter.go.
type leveledLogrus struct {
	*logrus.Logger
}

func fields(keysAndValues ...interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}

func (l *leveledLogrus) Error(msg string, kv ...interface{}) { l.WithFields(fields(kv...)).Error(msg) }
func (l *leveledLogrus) Info(msg string, kv ...interface{})  { l.WithFields(fields(kv...)).Info(msg) }
func (l *leveledLogrus) Debug(msg string, kv ...interface{}) { l.WithFields(fields(kv...)).Debug(msg) }
func (l *leveledLogrus) Warn(msg string, kv ...interface{})  { l.WithFields(fields(kv...)).Warn(msg) }

// Submit POSTs payload to endpointURL and returns nil on any 2xx response.
// Callers that treat telemetry as best-effort (the only required caller
// behavior per spec.md §6) must log and discard the returned error rather
// than fail the install.
func Submit(ctx context.Context, endpointURL string, payload Payload, log *logrus.Logger) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding telemetry payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building telemetry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = retryablehttp.LeveledLogger(&leveledLogrus{log})

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submitting telemetry report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
