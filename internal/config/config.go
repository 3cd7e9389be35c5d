// Package config provides the pipeline's on-disk configuration.
//
// Configuration is a versioned JSON envelope, loaded once at startup:
//
//	{"version": 1, "config": { ... }}
//
// The package only guarantees the data decodes; semantic validation runs
// in Validate, called by the command wiring before components are built.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const currentVersion = 1

// ErrNotFound signals a missing config file; callers fall back to
// Default().
var ErrNotFound = errors.New("config file not found")

// SourceKind selects the mail source implementation.
type SourceKind string

const (
	SourceHTTP SourceKind = "http"
	SourceDir  SourceKind = "dir"
)

// Duration is a time.Duration that round-trips JSON as a string like
// "30s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// SourceConfig configures the mail source.
type SourceConfig struct {
	Kind SourceKind `json:"kind"`

	// HTTP source fields.
	BaseURL     string `json:"baseUrl,omitempty"`
	Platform    string `json:"platform,omitempty"`
	Username    string `json:"username,omitempty"`
	TokenSecret string `json:"tokenSecret,omitempty"`

	// Dir source fields.
	Dir string `json:"dir,omitempty"`
}

// StreamConfig configures the change log.
type StreamConfig struct {
	Partitions int `json:"partitions"`
	Retention  int `json:"retention"`
}

// ConsumerConfig tunes the summarization consumer.
type ConsumerConfig struct {
	MaxBatchSize int      `json:"maxBatchSize"`
	MaxRetries   int      `json:"maxRetries"`
	Backoff      Duration `json:"backoff"`
}

// InferenceConfig configures the model client.
type InferenceConfig struct {
	Endpoint      string   `json:"endpoint"`
	ModelID       string   `json:"modelId"`
	InvokeTimeout Duration `json:"invokeTimeout"`
	RatePerSecond float64  `json:"ratePerSecond"`
}

// KafkaConfig configures the optional Kafka event bus.
type KafkaConfig struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	TLS     bool     `json:"tls,omitempty"`
}

// DeadLetterConfig selects the dead-letter sink. S3 is used when Bucket
// is set, the local file otherwise.
type DeadLetterConfig struct {
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`
}

// Config is the full pipeline configuration.
type Config struct {
	// DataDir roots the stores, journal, and watermark file.
	DataDir string `json:"dataDir"`
	// Schedule is the producer cron expression.
	Schedule string `json:"schedule"`
	// MetricsAddr serves Prometheus metrics when non-empty, e.g.
	// ":9090".
	MetricsAddr string `json:"metricsAddr,omitempty"`
	// CredentialsDir reads secrets from files when set; environment
	// variables otherwise.
	CredentialsDir string `json:"credentialsDir,omitempty"`

	Source     SourceConfig     `json:"source"`
	Stream     StreamConfig     `json:"stream"`
	Consumer   ConsumerConfig   `json:"consumer"`
	Inference  InferenceConfig  `json:"inference"`
	Kafka      KafkaConfig      `json:"kafka"`
	DeadLetter DeadLetterConfig `json:"deadLetter"`
}

// Default returns the baseline configuration: a 15-minute ingestion
// schedule, stream batches of five with two retries, and the local drop
// directory source.
func Default() Config {
	return Config{
		DataDir:  "data",
		Schedule: "*/15 * * * *",
		Source: SourceConfig{
			Kind: SourceDir,
			Dir:  "inbox",
		},
		Stream: StreamConfig{
			Partitions: 4,
			Retention:  1024,
		},
		Consumer: ConsumerConfig{
			MaxBatchSize: 5,
			MaxRetries:   2,
			Backoff:      Duration(time.Second),
		},
		Inference: InferenceConfig{
			ModelID:       "anthropic.claude-sonnet-4-5-20250929-v1:0",
			InvokeTimeout: Duration(30 * time.Second),
			RatePerSecond: 2,
		},
	}
}

// envelope is the versioned on-disk format.
type envelope struct {
	Version int             `json:"version"`
	Config  json.RawMessage `json:"config"`
}

// Load reads and decodes the config file. Returns ErrNotFound when the
// file does not exist. Fields absent from the file keep their Default()
// values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Config{}, fmt.Errorf("decode config envelope: %w", err)
	}
	if env.Version != currentVersion {
		return Config{}, fmt.Errorf("unsupported config version %d", env.Version)
	}

	cfg := Default()
	if err := json.Unmarshal(env.Config, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Save writes the config atomically in the versioned envelope.
func Save(path string, cfg Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data, err := json.MarshalIndent(envelope{Version: currentVersion, Config: raw}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config envelope: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Validate checks semantic invariants.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if c.Schedule == "" {
		return fmt.Errorf("schedule is required")
	}
	switch c.Source.Kind {
	case SourceHTTP:
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source.baseUrl is required for the http source")
		}
		if c.Source.TokenSecret == "" {
			return fmt.Errorf("source.tokenSecret is required for the http source")
		}
	case SourceDir:
		if c.Source.Dir == "" {
			return fmt.Errorf("source.dir is required for the dir source")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if c.Stream.Partitions <= 0 {
		return fmt.Errorf("stream.partitions must be positive")
	}
	if c.Stream.Retention <= 0 {
		return fmt.Errorf("stream.retention must be positive")
	}
	if c.Consumer.MaxBatchSize <= 0 {
		return fmt.Errorf("consumer.maxBatchSize must be positive")
	}
	if c.Consumer.MaxRetries < 0 {
		return fmt.Errorf("consumer.maxRetries must not be negative")
	}
	if c.Inference.Endpoint == "" {
		return fmt.Errorf("inference.endpoint is required")
	}
	if c.Inference.ModelID == "" {
		return fmt.Errorf("inference.modelId is required")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	return nil
}
