package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lardata/hasher"
	"lardata/logger"
	"lardata/rename"
	"lardata/version"
)

type Config struct {
	Metadata                []string          `json:"metadata" yaml:"metadata"`
	GeneratePerFileMetadata bool              `json:"generate_per_file_metadata" yaml:"generate_per_file_metadata"`
	CopyMetadataAttributes  []string          `json:"copy_metadata_attributes" yaml:"copy_metadata_attributes"`
	RenameTemplate          string            `json:"rename_template" yaml:"rename_template"`
	RenameOverwrite         bool              `json:"rename_overwrite" yaml:"rename_overwrite"`
	JobTrace                string            `json:"job_trace" yaml:"job_trace"`
	CatalogFile             string            `json:"catalog_file" yaml:"catalog_file"`
	WriteSidecars           bool              `json:"write_sidecars" yaml:"write_sidecars"`
	ChecksumAlgorithms      []string          `json:"checksum_algorithms" yaml:"checksum_algorithms"`
	CollectHostInfo         bool              `json:"collect_host_info" yaml:"collect_host_info"`
	ShowProgress            bool              `json:"show_progress" yaml:"show_progress"`
	LogLevel                string            `json:"log_level" yaml:"log_level"`
	DetectorParams          string            `json:"detector_params" yaml:"detector_params"`
	RuntimeTrace            string            `json:"runtime_trace" yaml:"runtime_trace"`
	ConfigFile              string            `json:"config_file" yaml:"config_file"`
	OtelEndpoint            string            `json:"otel_endpoint" yaml:"otel_endpoint"`
	OtelFromEnv             bool              `json:"otel_from_env" yaml:"otel_from_env"`
	OtelHeaders             map[string]string `json:"otel_headers" yaml:"otel_headers"`
	OtelServiceName         string            `json:"otel_service_name" yaml:"otel_service_name"`
	OtelTimeout             time.Duration     `json:"otel_timeout" yaml:"otel_timeout"`
}

// Default returns the configuration used before flags and files are applied.
func Default() *Config {
	return &Config{
		Metadata:                []string{},
		GeneratePerFileMetadata: true,
		CopyMetadataAttributes:  []string{},
		JobTrace:                "-",
		CatalogFile:             fmt.Sprintf("lardata-%s.ndjson", time.Now().UTC().Format("20060102-150405")),
		WriteSidecars:           true,
		ChecksumAlgorithms:      []string{"sha256"},
		CollectHostInfo:         true,
		LogLevel:                "info",
		OtelHeaders:             map[string]string{},
		OtelServiceName:         "lardata",
		OtelTimeout:             5 * time.Second,
	}
}

func LoadConfig() (*Config, error) {
	cfg := Default()

	metadata := flag.String("metadata", "", "Comma-separated per-job metadata as name,value pairs (default: none).")
	perFile := flag.Bool("per-file-metadata", cfg.GeneratePerFileMetadata, fmt.Sprintf("Generate per-file metadata for archival outputs (default: %t).", cfg.GeneratePerFileMetadata))
	copyAttrs := flag.String("copy-metadata-attributes", "", "Comma-separated input metadata attributes copied to outputs (default: none).")
	renameTemplate := flag.String("rename-template", cfg.RenameTemplate, "Template for renaming closed archival outputs (default: no renaming).")
	renameOverwrite := flag.Bool("rename-overwrite", cfg.RenameOverwrite, fmt.Sprintf("Replace existing files when renaming (default: %t).", cfg.RenameOverwrite))
	jobTrace := flag.String("trace", cfg.JobTrace, "Job trace to replay, or - for standard input (default: -).")
	catalogFile := flag.String("catalog", cfg.CatalogFile, "Catalog output file, empty to disable (default: lardata-<timestamp>.ndjson).")
	sidecars := flag.Bool("sidecars", cfg.WriteSidecars, fmt.Sprintf("Write <file>.json metadata sidecars (default: %t).", cfg.WriteSidecars))
	checksums := flag.String("checksums", strings.Join(cfg.ChecksumAlgorithms, ","), fmt.Sprintf("Comma-separated checksum algorithms for catalog records (default: %s).", strings.Join(cfg.ChecksumAlgorithms, ",")))
	hostInfo := flag.Bool("host-info", cfg.CollectHostInfo, fmt.Sprintf("Record host information in the job record (default: %t).", cfg.CollectHostInfo))
	progress := flag.Bool("progress", cfg.ShowProgress, fmt.Sprintf("Show replay progress (default: %t).", cfg.ShowProgress))
	detectorParams := flag.String("detector-params", cfg.DetectorParams, "YAML parameter set for the LAr properties service (default: none).")
	runtimeTrace := flag.String("runtime-trace", cfg.RuntimeTrace, "Write a runtime trace to this file when built with -tags trace (default: none).")
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	configFile := flag.String("config", "", "Path to JSON or YAML configuration file (default: none).")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: lardata).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("lardata version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "metadata":
			cfg.Metadata = parseCommaSeparated(*metadata)
		case "per-file-metadata":
			cfg.GeneratePerFileMetadata = *perFile
		case "copy-metadata-attributes":
			cfg.CopyMetadataAttributes = parseCommaSeparated(*copyAttrs)
		case "rename-template":
			cfg.RenameTemplate = *renameTemplate
		case "rename-overwrite":
			cfg.RenameOverwrite = *renameOverwrite
		case "trace":
			cfg.JobTrace = *jobTrace
		case "catalog":
			cfg.CatalogFile = *catalogFile
		case "sidecars":
			cfg.WriteSidecars = *sidecars
		case "checksums":
			cfg.ChecksumAlgorithms = parseCommaSeparated(*checksums)
		case "host-info":
			cfg.CollectHostInfo = *hostInfo
		case "progress":
			cfg.ShowProgress = *progress
		case "detector-params":
			cfg.DetectorParams = *detectorParams
		case "runtime-trace":
			cfg.RuntimeTrace = *runtimeTrace
		case "log-level":
			cfg.LogLevel = *logLevel
		case "otel-endpoint":
			cfg.OtelEndpoint = *otelEndpoint
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = *otelServiceName
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func displayHelp() {
	fmt.Println("lardata - file catalog metadata for art/LArSoft job outputs")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  lardata [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  lardata --trace job.ndjson --rename-template '${base .root}_reco_${num}.root'")
	fmt.Println("  lardata --trace - --metadata 'file_type,mc,group,uboone' --copy-metadata-attributes data_tier")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw fileConfig
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		return raw.apply(cfg)
	default:
		var raw fileConfig
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
		return raw.apply(cfg)
	}
}

// fileConfig mirrors Config with optional fields so that keys absent from
// a file keep their defaults. Durations are written as strings ("10s").
type fileConfig struct {
	Metadata                []string          `json:"metadata" yaml:"metadata"`
	GeneratePerFileMetadata *bool             `json:"generate_per_file_metadata" yaml:"generate_per_file_metadata"`
	CopyMetadataAttributes  []string          `json:"copy_metadata_attributes" yaml:"copy_metadata_attributes"`
	RenameTemplate          *string           `json:"rename_template" yaml:"rename_template"`
	RenameOverwrite         *bool             `json:"rename_overwrite" yaml:"rename_overwrite"`
	JobTrace                *string           `json:"job_trace" yaml:"job_trace"`
	CatalogFile             *string           `json:"catalog_file" yaml:"catalog_file"`
	WriteSidecars           *bool             `json:"write_sidecars" yaml:"write_sidecars"`
	ChecksumAlgorithms      []string          `json:"checksum_algorithms" yaml:"checksum_algorithms"`
	CollectHostInfo         *bool             `json:"collect_host_info" yaml:"collect_host_info"`
	ShowProgress            *bool             `json:"show_progress" yaml:"show_progress"`
	DetectorParams          *string           `json:"detector_params" yaml:"detector_params"`
	RuntimeTrace            *string           `json:"runtime_trace" yaml:"runtime_trace"`
	LogLevel                *string           `json:"log_level" yaml:"log_level"`
	OtelEndpoint            *string           `json:"otel_endpoint" yaml:"otel_endpoint"`
	OtelFromEnv             *bool             `json:"otel_from_env" yaml:"otel_from_env"`
	OtelHeaders             map[string]string `json:"otel_headers" yaml:"otel_headers"`
	OtelServiceName         *string           `json:"otel_service_name" yaml:"otel_service_name"`
	OtelTimeout             *string           `json:"otel_timeout" yaml:"otel_timeout"`
}

func (f fileConfig) apply(cfg *Config) error {
	if f.Metadata != nil {
		cfg.Metadata = f.Metadata
	}
	if f.GeneratePerFileMetadata != nil {
		cfg.GeneratePerFileMetadata = *f.GeneratePerFileMetadata
	}
	if f.CopyMetadataAttributes != nil {
		cfg.CopyMetadataAttributes = f.CopyMetadataAttributes
	}
	if f.RenameTemplate != nil {
		cfg.RenameTemplate = *f.RenameTemplate
	}
	if f.RenameOverwrite != nil {
		cfg.RenameOverwrite = *f.RenameOverwrite
	}
	if f.JobTrace != nil {
		cfg.JobTrace = *f.JobTrace
	}
	if f.CatalogFile != nil {
		cfg.CatalogFile = *f.CatalogFile
	}
	if f.WriteSidecars != nil {
		cfg.WriteSidecars = *f.WriteSidecars
	}
	if f.ChecksumAlgorithms != nil {
		cfg.ChecksumAlgorithms = f.ChecksumAlgorithms
	}
	if f.CollectHostInfo != nil {
		cfg.CollectHostInfo = *f.CollectHostInfo
	}
	if f.ShowProgress != nil {
		cfg.ShowProgress = *f.ShowProgress
	}
	if f.DetectorParams != nil {
		cfg.DetectorParams = *f.DetectorParams
	}
	if f.RuntimeTrace != nil {
		cfg.RuntimeTrace = *f.RuntimeTrace
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
	if f.OtelEndpoint != nil {
		cfg.OtelEndpoint = *f.OtelEndpoint
	}
	if f.OtelFromEnv != nil {
		cfg.OtelFromEnv = *f.OtelFromEnv
	}
	if f.OtelHeaders != nil {
		cfg.OtelHeaders = f.OtelHeaders
	}
	if f.OtelServiceName != nil {
		cfg.OtelServiceName = *f.OtelServiceName
	}
	if f.OtelTimeout != nil {
		d, err := time.ParseDuration(*f.OtelTimeout)
		if err != nil {
			return fmt.Errorf("invalid otel_timeout: %v", err)
		}
		cfg.OtelTimeout = d
	}
	return nil
}

func (cfg *Config) validate() error {
	if strings.TrimSpace(cfg.JobTrace) == "" {
		cfg.JobTrace = "-"
	}
	if strings.TrimSpace(cfg.OtelServiceName) == "" {
		cfg.OtelServiceName = "lardata"
	}
	cfg.ChecksumAlgorithms = normalizeAlgorithms(cfg.ChecksumAlgorithms)

	if len(cfg.Metadata)%2 != 0 {
		return fmt.Errorf("metadata must be a list of name/value pairs, got %d entries", len(cfg.Metadata))
	}
	for _, algo := range cfg.ChecksumAlgorithms {
		if !hasher.Supported(algo) {
			return fmt.Errorf("invalid checksum algorithm: %s", algo)
		}
	}
	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	if !containsString(validLogLevels, strings.ToLower(cfg.LogLevel)) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			return fmt.Errorf("otel endpoint must include scheme (http or https)")
		}
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.RenameTemplate != "" {
		if _, err := rename.Parse(cfg.RenameTemplate); err != nil {
			logger.Warnf("Rename template will not expand: %v", err)
		}
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	for _, item := range strings.Split(input, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

func normalizeAlgorithms(items []string) []string {
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || containsString(normalized, item) {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}

func containsString(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
