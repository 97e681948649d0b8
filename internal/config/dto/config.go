package dto

import (
	"fmt"
	"time"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Storage       StorageConfig       `mapstructure:"storage"`
	FileRotation  FileRotationConfig  `mapstructure:"file_rotation"`
	Generator     GeneratorConfig     `mapstructure:"generator"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// DispatcherConfig sizes the log buffer and names its subscriptions.
// Zero sizes let the dispatcher derive them.
type DispatcherConfig struct {
	Name               string   `mapstructure:"name"`
	BufferSizeBytes    int      `mapstructure:"buffer_size_bytes"`
	MaxFragmentLength  int      `mapstructure:"max_fragment_length"`
	InitialPosition    int64    `mapstructure:"initial_position"`
	Mode               string   `mapstructure:"mode"`
	Allocator          string   `mapstructure:"allocator"`
	UpkeepIntervalMS   int      `mapstructure:"upkeep_interval_ms"`
	HandlerPanicPolicy string   `mapstructure:"handler_panic_policy"`
	Subscriptions      []string `mapstructure:"subscriptions"`
}

// UpkeepInterval returns the upkeep period as a duration.
func (c DispatcherConfig) UpkeepInterval() time.Duration {
	return time.Duration(c.UpkeepIntervalMS) * time.Millisecond
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers      []string      `mapstructure:"bootstrap_servers"`
	SecurityProtocol      string        `mapstructure:"security_protocol"`
	SASLMechanism         string        `mapstructure:"sasl_mechanism"`
	SASLUsername          string        `mapstructure:"sasl_username"`
	SASLPassword          string        `mapstructure:"sasl_password"`
	AWSRegion             string        `mapstructure:"aws_region"`
	TLSInsecureSkipVerify bool          `mapstructure:"tls_insecure_skip_verify"`
	Ingest                IngestConfig  `mapstructure:"ingest"`
	Publish               PublishConfig `mapstructure:"publish"`
	DLQ                   DLQConfig     `mapstructure:"dlq"`
}

// IngestConfig configures the consumer group that claims fragments from
// Kafka messages.
type IngestConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
	BackpressureWaitMS  int      `mapstructure:"backpressure_wait_ms"`
	ValidateCloudEvents bool     `mapstructure:"validate_cloudevents"`
}

// PublishConfig configures the subscription that forwards fragments to
// Kafka.
type PublishConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Subscription string `mapstructure:"subscription"`
	Topic        string `mapstructure:"topic"`
	MaxFragments int    `mapstructure:"max_fragments"`
	IdleWaitMS   int    `mapstructure:"idle_wait_ms"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
}

// ArchiveConfig configures the block archiver subscription.
type ArchiveConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Subscription     string `mapstructure:"subscription"`
	MaxBlockBytes    int    `mapstructure:"max_block_bytes"`
	StreamAware      bool   `mapstructure:"stream_aware"`
	PollIntervalMS   int    `mapstructure:"poll_interval_ms"`
	BufferSizeMB     int    `mapstructure:"buffer_size_mb"`
	BufferMaxRecords int    `mapstructure:"buffer_max_records"`
}

// StorageConfig contains storage backend configuration
type StorageConfig struct {
	Backend     string      `mapstructure:"backend"`
	Format      string      `mapstructure:"format"`
	Compression string      `mapstructure:"compression"`
	BasePath    string      `mapstructure:"base_path"`
	S3          S3Config    `mapstructure:"s3"`
	Azure       AzureConfig `mapstructure:"azure"`
	GCS         GCSConfig   `mapstructure:"gcs"`
	File        FileConfig  `mapstructure:"file"`
}

// Bucket returns the bucket or container of the selected backend.
func (c StorageConfig) Bucket() string {
	switch c.Backend {
	case "s3":
		return c.S3.Bucket
	case "gcs":
		return c.GCS.Bucket
	case "azure":
		return c.Azure.Container
	default:
		return ""
	}
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	Endpoint             string `mapstructure:"endpoint"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// FileRotationConfig contains file rotation settings
type FileRotationConfig struct {
	MaxFileSizeMB      int64  `mapstructure:"max_file_size_mb"`
	MaxRecordsPerFile  int    `mapstructure:"max_records_per_file"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds"`
	Strategy           string `mapstructure:"strategy"`
}

// GeneratorConfig configures the synthetic CloudEvents producer.
type GeneratorConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
	StreamIDs     []int  `mapstructure:"stream_ids"`
	Source        string `mapstructure:"source"`
	EventType     string `mapstructure:"event_type"`
	MaxEvents     int    `mapstructure:"max_events"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// GracePeriod returns the shutdown grace period as a duration.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if c.Dispatcher.Name == "" {
		return fmt.Errorf("dispatcher name is required")
	}
	if c.Storage.Backend == "" {
		return fmt.Errorf("storage backend is required")
	}
	return nil
}

// Validate validates the Kafka clients that are enabled.
func (c *KafkaConfig) Validate() error {
	if !c.Ingest.Enabled && !c.Publish.Enabled {
		return nil
	}
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.Ingest.Enabled {
		if c.Ingest.GroupID == "" {
			return fmt.Errorf("kafka ingest group ID is required")
		}
		if len(c.Ingest.Topics) == 0 {
			return fmt.Errorf("kafka ingest topics are required")
		}
	}
	if c.Publish.Enabled {
		if c.Publish.Topic == "" {
			return fmt.Errorf("kafka publish topic is required")
		}
		if c.Publish.Subscription == "" {
			return fmt.Errorf("kafka publish subscription is required")
		}
	}
	if c.DLQ.Enabled && c.DLQ.TopicSuffix == "" {
		return fmt.Errorf("kafka dlq topic suffix is required")
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
