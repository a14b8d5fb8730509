package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/reinf-transmitter/internal/events"
	"github.com/ginjaninja78/reinf-transmitter/internal/transmit"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMainConfigDefaults(t *testing.T) {
	cfg, err := LoadMainConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)

	assert.Equal(t, "sandbox", cfg.Environment)
	assert.Equal(t, events.PerRow, cfg.Kind())
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, "{event}_{period}_{uuid}.xml", cfg.OutputNameFormat)
	assert.Equal(t, 30*time.Second, cfg.Transmission.Timeout)
	assert.Equal(t, 1, cfg.Transmission.MaxAttempts)
	assert.Equal(t, int64(5<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 2, cfg.CSV.DataStartRow)
	assert.Equal(t, "REINF_KEYSTORE_PASSWORD", cfg.Keystore.PasswordEnv)

	_, err = LoadMainConfig(filepath.Join(t.TempDir(), "missing.yaml"), true)
	assert.Error(t, err)
}

func TestLoadMainConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", `
environment: production
event_kind: R-4080
log_format: json
max_concurrency: 2
header:
  period: "2025-02"
  issuer: "12.345.678/0001-99"
  sequence: 7
csv:
  delimiter: ";"
  header_rows: 2
keystore:
  path: ./cert.pfx
  password_env: MY_PFX_PASSWORD
transmission:
  timeout: 45s
  max_attempts: 3
  initial_backoff: 500ms
server:
  addr: "127.0.0.1:9000"
`)

	cfg, err := LoadMainConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, transmit.Production, cfg.Env())
	assert.Equal(t, events.Grouped, cfg.Kind())
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.Equal(t, 3, cfg.CSV.DataStartRow)
	assert.Equal(t, 45*time.Second, cfg.Transmission.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Transmission.InitialBackoff)
	assert.Equal(t, 3, cfg.Transmission.MaxAttempts)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	h := cfg.EventHeader(cfg.Env())
	assert.Equal(t, "1", h.TpAmb)
	assert.Equal(t, "2025-02", h.Period)
	assert.Equal(t, 7, h.Sequence)
	assert.Equal(t, "1.0", h.VerProc)

	t.Setenv("MY_PFX_PASSWORD", "hunter2")
	assert.Equal(t, "hunter2", cfg.KeystorePassword())
}

func TestLoadMainConfigInvalid(t *testing.T) {
	tests := map[string]string{
		"environment": "environment: staging\n",
		"event kind":  "event_kind: R-2010\n",
		"log level":   "log_level: chatty\n",
		"csv rows":    "csv:\n  header_rows: 2\n  data_start_row: 2\n",
		"yaml":        "environment: [\n",
		"unknown key": "input_directory: ./in\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMainConfig(writeFile(t, "config.yaml", content), true)
			assert.Error(t, err)
		})
	}
}

func TestLoadMainConfigEmptyFile(t *testing.T) {
	cfg, err := LoadMainConfig(writeFile(t, "config.yaml", ""), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadColumnMapping(t *testing.T) {
	yamlPath := writeFile(t, "mapping.yaml", "\"Valor Bruto\": vlrBruto\nCNPJ Fonte: cnpjFont\nIgnore: \"\"\n")
	mapping, err := LoadColumnMapping(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "vlrBruto", mapping["Valor Bruto"])
	assert.Equal(t, "cnpjFont", mapping["CNPJ Fonte"])
	assert.NotContains(t, mapping, "Ignore")

	jsonPath := writeFile(t, "mapping.json", `{"ColA": "vlrBruto", "Data": "dtFG"}`)
	mapping, err = LoadColumnMapping(jsonPath)
	require.NoError(t, err)
	assert.Len(t, mapping, 2)
	assert.Equal(t, "dtFG", mapping["Data"])

	_, err = LoadColumnMapping(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}
