package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/logdispatch/internal/config/dto"
	"github.com/jittakal/logdispatch/internal/encoder"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Only values containing ${...} are expanded.
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "logdispatch")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Dispatcher defaults; zero sizes are derived by the dispatcher
	l.v.SetDefault("dispatcher.name", "default")
	l.v.SetDefault("dispatcher.buffer_size_bytes", 0)
	l.v.SetDefault("dispatcher.max_fragment_length", 0)
	l.v.SetDefault("dispatcher.initial_position", 1)
	l.v.SetDefault("dispatcher.mode", "pubsub")
	l.v.SetDefault("dispatcher.allocator", "heap")
	l.v.SetDefault("dispatcher.upkeep_interval_ms", 1)
	l.v.SetDefault("dispatcher.handler_panic_policy", "consume")
	l.v.SetDefault("dispatcher.subscriptions", []string{"archiver"})

	// Kafka defaults
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.aws_region", "us-east-1")
	l.v.SetDefault("kafka.tls_insecure_skip_verify", false)
	l.v.SetDefault("kafka.ingest.enabled", false)
	l.v.SetDefault("kafka.ingest.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.ingest.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.ingest.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.ingest.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.ingest.backpressure_wait_ms", 100)
	l.v.SetDefault("kafka.ingest.validate_cloudevents", false)
	l.v.SetDefault("kafka.publish.enabled", false)
	l.v.SetDefault("kafka.publish.subscription", "publisher")
	l.v.SetDefault("kafka.publish.max_fragments", 256)
	l.v.SetDefault("kafka.publish.idle_wait_ms", 10)
	l.v.SetDefault("kafka.dlq.enabled", true)
	l.v.SetDefault("kafka.dlq.topic_suffix", "-dlq")

	// Archive defaults
	l.v.SetDefault("archive.enabled", true)
	l.v.SetDefault("archive.subscription", "archiver")
	l.v.SetDefault("archive.max_block_bytes", 64*1024)
	l.v.SetDefault("archive.stream_aware", true)
	l.v.SetDefault("archive.poll_interval_ms", 10)
	l.v.SetDefault("archive.buffer_size_mb", 64)
	l.v.SetDefault("archive.buffer_max_records", 0)

	// Storage defaults
	l.v.SetDefault("storage.backend", "file")
	l.v.SetDefault("storage.format", "parquet")
	// Empty selects the format's default codec
	l.v.SetDefault("storage.compression", "")
	l.v.SetDefault("storage.file.base_path", "./data")
	l.v.SetDefault("storage.s3.use_path_style", false)
	l.v.SetDefault("storage.s3.sse_enabled", true)

	// File rotation defaults
	l.v.SetDefault("file_rotation.max_file_size_mb", 128)
	l.v.SetDefault("file_rotation.max_records_per_file", 100000)
	l.v.SetDefault("file_rotation.max_duration_seconds", 300)
	l.v.SetDefault("file_rotation.strategy", "composite")

	// Generator defaults
	l.v.SetDefault("generator.enabled", false)
	l.v.SetDefault("generator.rate_per_second", 100)
	l.v.SetDefault("generator.stream_ids", []int{0, 1, 2})
	l.v.SetDefault("generator.source", "logdispatch/generator")
	l.v.SetDefault("generator.event_type", "io.logdispatch.sample")
	l.v.SetDefault("generator.max_events", 0)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	// Dispatcher validation
	d := config.Dispatcher
	if d.BufferSizeBytes < 0 || d.MaxFragmentLength < 0 {
		return errors.New("dispatcher sizes cannot be negative")
	}
	if d.InitialPosition < 1 {
		return fmt.Errorf("dispatcher.initial_position must be at least 1: %d", d.InitialPosition)
	}
	if !oneOf(d.Mode, "", "pubsub", "pipeline") {
		return fmt.Errorf("unsupported dispatcher mode: %s", d.Mode)
	}
	if !oneOf(d.Allocator, "", "heap", "mmap") {
		return fmt.Errorf("unsupported allocator: %s", d.Allocator)
	}
	if !oneOf(d.HandlerPanicPolicy, "", "consume", "mark_failed", "stop") {
		return fmt.Errorf("unsupported handler panic policy: %s", d.HandlerPanicPolicy)
	}
	if err := requireSubscription(d.Subscriptions, config.Archive.Enabled, "archive", config.Archive.Subscription); err != nil {
		return err
	}
	if err := requireSubscription(d.Subscriptions, config.Kafka.Publish.Enabled, "kafka.publish", config.Kafka.Publish.Subscription); err != nil {
		return err
	}

	// Kafka validation
	if err := config.Kafka.Validate(); err != nil {
		return err
	}
	if !oneOf(config.Kafka.SecurityProtocol, "PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL") {
		return fmt.Errorf("unsupported security protocol: %s", config.Kafka.SecurityProtocol)
	}

	// Storage validation
	switch config.Storage.Backend {
	case "s3":
		if err := config.Storage.S3.Validate(); err != nil {
			return err
		}
	case "azure":
		if err := config.Storage.Azure.Validate(); err != nil {
			return err
		}
	case "gcs":
		if err := config.Storage.GCS.Validate(); err != nil {
			return err
		}
	case "file":
		if err := config.Storage.File.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", config.Storage.Backend)
	}

	format, err := encoder.ParseFormat(config.Storage.Format)
	if err != nil {
		return fmt.Errorf("unsupported storage format: %s", config.Storage.Format)
	}
	if c := strings.ToLower(config.Storage.Compression); c != "" && !oneOf(c, encoder.SupportedCompressions(format)...) {
		return fmt.Errorf("unsupported %s compression: %s", format, config.Storage.Compression)
	}

	if !oneOf(config.FileRotation.Strategy, "composite", "size", "time", "count") {
		return fmt.Errorf("unsupported rotation strategy: %s", config.FileRotation.Strategy)
	}

	// Generator validation
	if config.Generator.Enabled {
		if config.Generator.RatePerSecond <= 0 {
			return fmt.Errorf("invalid generator rate: %d", config.Generator.RatePerSecond)
		}
		if len(config.Generator.StreamIDs) == 0 {
			return errors.New("generator.stream_ids is required")
		}
	}

	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}

func requireSubscription(names []string, enabled bool, component, name string) error {
	if enabled && !oneOf(name, names...) {
		return fmt.Errorf("%s subscription %q is not in dispatcher.subscriptions", component, name)
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
