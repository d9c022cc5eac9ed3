package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() Payload {
	return Payload{
		InstallID:        "11111111-1111-1111-1111-111111111111",
		ISOVersion:       "dev",
		InstallerVersion: "dev",
		Status:           "success",
		Hardware: Hardware{
			Kernel:    "6.8.0",
			CPUFamily: "x86_64",
			RAMMiB:    16384,
			Disks:     []Disk{{Type: "nvme", SizeBucket: "512GB-1TB"}},
		},
		Choices: Choices{
			Locale:            "en_US",
			Keyboard:          "us",
			Timezone:          "UTC",
			RAIDType:          "mirror",
			EncryptionEnabled: true,
			HardeningProfile:  "server",
		},
		SchemaVersion: SchemaVersion,
	}
}

func TestSubmit_SuccessOnOK(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log := logrus.New()
	log.SetOutput(testWriter{t})

	err := Submit(context.Background(), srv.URL, testPayload(), log)
	require.NoError(t, err)
	assert.Equal(t, "server", received.Choices.HardeningProfile)
}

func TestSubmit_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	log := logrus.New()
	log.SetOutput(testWriter{t})

	err := Submit(context.Background(), srv.URL, testPayload(), log)
	assert.Error(t, err)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
