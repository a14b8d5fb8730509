// =============================================================================
// Reinf Transmitter - Configuration Module
// =============================================================================
//
// This module loads the application configuration and column-mapping files.
//
// CONFIGURATION FILES:
//   1. Main Config (config.yaml): environment, directories, header defaults,
//      key store, transmission and server settings
//   2. Column Mappings (mapping.yaml / mapping.json): source column ->
//      canonical field name
//
// A missing default config file is not an error: every key has a default.
// Secrets never live in the file; the key-store password is read from the
// environment variable named by keystore.password_env.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/reinf-transmitter/internal/events"
	"github.com/ginjaninja78/reinf-transmitter/internal/transmit"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
)

// DefaultPath is the config file read when no --config flag is given.
const DefaultPath = "config.yaml"

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// =========================================================================
	// EVENT SETTINGS
	// =========================================================================

	// Environment selects the regulator endpoint and the tpAmb header flag.
	// Valid values: "sandbox", "production"
	// Default: "sandbox"
	Environment string `yaml:"environment"`

	// EventKind selects the builder.
	// Valid values: "perRow" (R-4010), "grouped" (R-4080)
	// Default: "perRow"
	EventKind string `yaml:"event_kind"`

	// MappingFile is an optional column-mapping file.
	MappingFile string `yaml:"mapping_file"`

	// Header holds the event header defaults.
	Header HeaderConfig `yaml:"header"`

	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is scanned by the process command.
	// Default: "./input"
	InputDir string `yaml:"input_dir"`

	// OutputDir receives generated XML files and run summaries.
	// Default: "./output"
	OutputDir string `yaml:"output_dir"`

	// InputArchiveDir receives processed input files. Empty disables
	// archiving.
	InputArchiveDir string `yaml:"input_archive_dir"`

	// ArchiveLayout is a Go time layout for archive subdirectories, e.g.
	// "2006/01". Empty keeps the archive flat.
	ArchiveLayout string `yaml:"archive_layout"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFormat selects the slog handler.
	// Valid values: "text", "json"
	// Default: "text"
	LogFormat string `yaml:"log_format"`

	// =========================================================================
	// OUTPUT SETTINGS
	// =========================================================================

	// OutputNameFormat defines the format for output file names.
	// Placeholders:
	//   {uuid}      - A random UUID
	//   {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
	//   {event}     - Event code (R-4010, R-4080)
	//   {period}    - Period of assessment
	//   {source}    - Input file name without extension
	// Default: "{event}_{period}_{uuid}.xml"
	OutputNameFormat string `yaml:"output_name_format"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency is the maximum number of files processed concurrently.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency"`

	// CSV configures CSV ingestion.
	CSV CSVSettings `yaml:"csv"`

	Keystore     KeystoreConfig     `yaml:"keystore"`
	Transmission TransmissionConfig `yaml:"transmission"`
	Server       ServerConfig       `yaml:"server"`
}

// HeaderConfig holds event header defaults.
type HeaderConfig struct {
	// IndRetif is the rectification indicator. Default: "1"
	IndRetif string `yaml:"ind_retif"`

	// ProcEmi is the emission process. Default: "1"
	ProcEmi string `yaml:"proc_emi"`

	// VerProc is the emitting software version. Default: "1.0"
	VerProc string `yaml:"ver_proc"`

	// Period is used when the first row has no period (YYYY-MM).
	Period string `yaml:"period"`

	// Issuer is used when the first row has no establishment CNPJ.
	Issuer string `yaml:"issuer"`

	// Sequence is the event id suffix. Default: 1
	Sequence int `yaml:"sequence"`
}

// CSVSettings contains settings for parsing CSV files.
type CSVSettings struct {
	// Delimiter separates fields. Empty sniffs ";" or "," from the header.
	// Common values: ",", ";", "|", "\t"
	Delimiter string `yaml:"delimiter"`

	// HeaderRows is the number of header rows. Multi-line headers are
	// merged with a space.
	// Default: 1
	HeaderRows int `yaml:"header_rows"`

	// DataStartRow is the 1-based row where data begins.
	// Default: HeaderRows + 1
	DataStartRow int `yaml:"data_start_row"`
}

// KeystoreConfig locates the signing key store.
type KeystoreConfig struct {
	// Path is the .pfx / .p12 file.
	Path string `yaml:"path"`

	// PasswordEnv names the environment variable holding the password.
	// Default: "REINF_KEYSTORE_PASSWORD"
	PasswordEnv string `yaml:"password_env"`
}

// TransmissionConfig bounds and retries transmissions.
type TransmissionConfig struct {
	// Timeout bounds one transmission. Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts > 1 retries transport errors with backoff. Default: 1
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the first retry delay. Default: 2s
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address. Default: ":8080"
	Addr string `yaml:"addr"`

	// MaxUploadBytes bounds uploaded spreadsheets. Default: 5 MiB
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// =============================================================================
// LOADING
// =============================================================================

// Default returns a configuration with every default applied.
func Default() *MainConfig {
	cfg := &MainConfig{}
	cfg.setDefaults()
	return cfg
}

// LoadMainConfig reads the configuration file. When mustExist is false a
// missing file yields the defaults. Unknown keys are rejected.
func LoadMainConfig(configPath string, mustExist bool) (*MainConfig, error) {
	f, err := os.Open(configPath)
	if errors.Is(err, os.ErrNotExist) && !mustExist {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg := &MainConfig{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// orDefault sets *v to def when *v is the zero value.
func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

func (c *MainConfig) setDefaults() {
	orDefault(&c.Environment, string(transmit.Sandbox))
	orDefault(&c.EventKind, string(events.PerRow))
	orDefault(&c.InputDir, "./input")
	orDefault(&c.OutputDir, "./output")
	orDefault(&c.LogLevel, "info")
	orDefault(&c.LogFormat, "text")
	orDefault(&c.OutputNameFormat, "{event}_{period}_{uuid}.xml")

	orDefault(&c.Header.IndRetif, "1")
	orDefault(&c.Header.ProcEmi, "1")
	orDefault(&c.Header.VerProc, "1.0")

	orDefault(&c.Keystore.PasswordEnv, "REINF_KEYSTORE_PASSWORD")
	orDefault(&c.Server.Addr, ":8080")

	// Counts and durations: anything not positive falls back.
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.Header.Sequence <= 0 {
		c.Header.Sequence = 1
	}
	if c.CSV.HeaderRows <= 0 {
		c.CSV.HeaderRows = 1
	}
	if c.CSV.DataStartRow <= 0 {
		c.CSV.DataStartRow = c.CSV.HeaderRows + 1
	}
	if c.Transmission.Timeout <= 0 {
		c.Transmission.Timeout = transmit.DefaultTimeout
	}
	if c.Transmission.MaxAttempts <= 0 {
		c.Transmission.MaxAttempts = 1
	}
	if c.Transmission.InitialBackoff <= 0 {
		c.Transmission.InitialBackoff = 2 * time.Second
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = 5 << 20
	}
}

func (c *MainConfig) validate() error {
	if _, err := transmit.ParseEnvironment(c.Environment); err != nil {
		return err
	}
	if _, err := events.ParseKind(c.EventKind); err != nil {
		return err
	}

	if !oneOf(c.LogLevel, "debug", "info", "warn", "error") {
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if !oneOf(c.LogFormat, "text", "json") {
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}

	if c.CSV.DataStartRow <= c.CSV.HeaderRows {
		return fmt.Errorf("csv.data_start_row (%d) must come after the header rows (%d)",
			c.CSV.DataStartRow, c.CSV.HeaderRows)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Env returns the parsed environment.
func (c *MainConfig) Env() transmit.Environment {
	env, err := transmit.ParseEnvironment(c.Environment)
	if err != nil {
		return transmit.Sandbox
	}
	return env
}

// Kind returns the parsed event kind.
func (c *MainConfig) Kind() events.Kind {
	kind, err := events.ParseKind(c.EventKind)
	if err != nil {
		return events.PerRow
	}
	return kind
}

// EventHeader converts the header defaults for env.
func (c *MainConfig) EventHeader(env transmit.Environment) events.Header {
	return events.Header{
		IndRetif: c.Header.IndRetif,
		TpAmb:    env.TpAmb(),
		ProcEmi:  c.Header.ProcEmi,
		VerProc:  c.Header.VerProc,
		Period:   c.Header.Period,
		Issuer:   c.Header.Issuer,
		Sequence: c.Header.Sequence,
	}
}

// KeystorePassword reads the key-store password from the environment.
func (c *MainConfig) KeystorePassword() string {
	return os.Getenv(c.Keystore.PasswordEnv)
}

// =============================================================================
// COLUMN MAPPINGS
// =============================================================================

// LoadColumnMapping reads a mapping file. YAML and JSON are both accepted
// (JSON is valid YAML).
//
// EXAMPLE:
//
//	"Valor Bruto": vlrBruto
//	"CNPJ Fonte": cnpjFont
func LoadColumnMapping(path string) (types.ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}

	mapping := types.ColumnMapping{}
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file: %w", err)
	}

	for source, field := range mapping {
		if strings.TrimSpace(field) == "" {
			delete(mapping, source)
		}
	}
	return mapping, nil
}
