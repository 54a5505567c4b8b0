package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig holds daemon-specific settings for the local dev dispatcher.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr" yaml:"httpAddr"`
	LogLevel string `json:"log_level" yaml:"logLevel"`
}

// TracingConfig holds OpenTelemetry tracing settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`         // Default: false
	Exporter    string  `json:"exporter" yaml:"exporter"`       // otlp-http (or otlp), stdout
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`       // localhost:4318
	ServiceName string  `json:"service_name" yaml:"serviceName"` // flock
	SampleRate  float64 `json:"sample_rate" yaml:"sampleRate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings
type MetricsConfig struct {
	Enabled          bool      `json:"enabled" yaml:"enabled"`                   // Default: true
	Namespace        string    `json:"namespace" yaml:"namespace"`               // flock
	HistogramBuckets []float64 `json:"histogram_buckets" yaml:"histogramBuckets"` // Latency buckets in ms
}

// LoggingConfig holds structured logging settings
type LoggingConfig struct {
	Level          string `json:"level" yaml:"level"`                   // debug, info, warn, error
	Format         string `json:"format" yaml:"format"`                 // text, json
	IncludeTraceID bool   `json:"include_trace_id" yaml:"includeTraceID"` // Correlate with traces
}

// ObservabilityConfig holds all observability-related settings
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// StateBackendKind selects the storage medium backing windowed state.
type StateBackendKind string

const (
	StateBackendMemory StateBackendKind = "memory"
	StateBackendS3     StateBackendKind = "s3"
)

// StateBackendConfig holds state backend connection settings.
type StateBackendConfig struct {
	Kind   StateBackendKind `json:"kind" yaml:"kind"`     // memory, s3
	Bucket string           `json:"bucket" yaml:"bucket"` // S3 bucket name, when Kind == s3
	Region string           `json:"region" yaml:"region"` // AWS region, when Kind == s3
}

// CodecConfig holds payload codec defaults.
type CodecConfig struct {
	Encoding    string `json:"encoding" yaml:"encoding"`       // none, snappy, lz4, zstd
	WireCeiling int    `json:"wire_ceiling" yaml:"wireCeiling"` // bytes; not read by the dispatcher, which sends every payload inline
}

// DispatchConfig holds dispatcher fan-out and invocation settings.
type DispatchConfig struct {
	FanoutLimit int           `json:"fanout_limit" yaml:"fanoutLimit"` // bounded concurrency for group successor invocation
	WindowTTL   time.Duration `json:"window_ttl" yaml:"windowTTL"`     // age after which Arena.Abandoned reports an incomplete window
}

// LambdaConfig holds AWS Lambda invocation settings.
type LambdaConfig struct {
	FunctionPrefix string `json:"function_prefix" yaml:"functionPrefix"` // not read by LambdaInvoker, which uses the stage name itself as the function name
	Region         string `json:"region" yaml:"region"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Daemon        DaemonConfig        `json:"daemon" yaml:"daemon"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	StateBackend  StateBackendConfig  `json:"state_backend" yaml:"stateBackend"`
	Codec         CodecConfig         `json:"codec" yaml:"codec"`
	Dispatch      DispatchConfig      `json:"dispatch" yaml:"dispatch"`
	Lambda        LambdaConfig        `json:"lambda" yaml:"lambda"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			HTTPAddr: "",
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "flock",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "flock",
				HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
		StateBackend: StateBackendConfig{
			Kind: StateBackendMemory,
		},
		Codec: CodecConfig{
			Encoding:    "zstd",
			WireCeiling: 256 << 10,
		},
		Dispatch: DispatchConfig{
			FanoutLimit: 32,
			WindowTTL:   30 * time.Second,
		},
		Lambda: LambdaConfig{
			FunctionPrefix: "flock-",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension (.yaml, .yml default to YAML; everything else is JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FLOCK_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("FLOCK_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}

	// Observability overrides
	if v := os.Getenv("FLOCK_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLOCK_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("FLOCK_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("FLOCK_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("FLOCK_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("FLOCK_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLOCK_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("FLOCK_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("FLOCK_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}

	// State backend overrides
	if v := os.Getenv("FLOCK_STATE_BACKEND"); v != "" {
		cfg.StateBackend.Kind = StateBackendKind(v)
	}
	if v := os.Getenv("FLOCK_STATE_BUCKET"); v != "" {
		cfg.StateBackend.Bucket = v
	}
	if v := os.Getenv("FLOCK_STATE_REGION"); v != "" {
		cfg.StateBackend.Region = v
	}

	// Codec overrides
	if v := os.Getenv("FLOCK_CODEC_ENCODING"); v != "" {
		cfg.Codec.Encoding = v
	}
	if v := os.Getenv("FLOCK_CODEC_WIRE_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Codec.WireCeiling = n
		}
	}

	// Dispatch overrides
	if v := os.Getenv("FLOCK_DISPATCH_FANOUT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.FanoutLimit = n
		}
	}
	if v := os.Getenv("FLOCK_DISPATCH_WINDOW_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.WindowTTL = d
		}
	}

	// Lambda overrides
	if v := os.Getenv("FLOCK_LAMBDA_FUNCTION_PREFIX"); v != "" {
		cfg.Lambda.FunctionPrefix = v
	}
	if v := os.Getenv("FLOCK_LAMBDA_REGION"); v != "" {
		cfg.Lambda.Region = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
