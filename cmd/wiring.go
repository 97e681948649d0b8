package main

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/archiver"
	"github.com/jittakal/logdispatch/internal/buffer"
	"github.com/jittakal/logdispatch/internal/config/dto"
	"github.com/jittakal/logdispatch/internal/dispatcher"
	"github.com/jittakal/logdispatch/internal/encoder"
	"github.com/jittakal/logdispatch/internal/generator"
	"github.com/jittakal/logdispatch/internal/kafka"
	"github.com/jittakal/logdispatch/internal/logbuffer"
	"github.com/jittakal/logdispatch/internal/observability"
	"github.com/jittakal/logdispatch/internal/storage"
	"github.com/jittakal/logdispatch/pkg/event"
	pkgscheduler "github.com/jittakal/logdispatch/pkg/scheduler"
	pkgstorage "github.com/jittakal/logdispatch/pkg/storage"
)

func newDispatcher(cfg dto.DispatcherConfig, sched pkgscheduler.Scheduler, logger *zap.Logger, metrics *observability.Metrics) (*dispatcher.Dispatcher, error) {
	mode, err := dispatcher.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	policy, err := dispatcher.ParseHandlerPanicPolicy(cfg.HandlerPanicPolicy)
	if err != nil {
		return nil, err
	}
	allocator, err := logbuffer.AllocatorByName(cfg.Allocator)
	if err != nil {
		return nil, err
	}

	b := dispatcher.NewBuilder(sched).
		Name(cfg.Name).
		Mode(mode).
		Allocator(allocator).
		HandlerPanicPolicy(policy).
		InitialPosition(cfg.InitialPosition).
		Subscriptions(cfg.Subscriptions...).
		Logger(logger).
		Metrics(metrics)
	if cfg.BufferSizeBytes > 0 {
		b.BufferSize(cfg.BufferSizeBytes)
	}
	if cfg.MaxFragmentLength > 0 {
		b.MaxFragmentLength(cfg.MaxFragmentLength)
	}
	if cfg.UpkeepIntervalMS > 0 {
		b.UpkeepInterval(cfg.UpkeepInterval())
	}

	d, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build dispatcher: %w", err)
	}
	return d, nil
}

// newComponents builds the enabled producers (generator, Kafka ingest) and
// consumers (Kafka publisher, archiver) of d.
func newComponents(
	cfg *dto.ApplicationConfig,
	d *dispatcher.Dispatcher,
	logger *zap.Logger,
	metrics *observability.Metrics,
	addCleanup func(name string, fn func() error),
) (producers, consumers []component, err error) {
	sec := kafkaSecurity(cfg.Kafka)

	if cfg.Generator.Enabled {
		streamIDs := make([]int32, len(cfg.Generator.StreamIDs))
		for i, id := range cfg.Generator.StreamIDs {
			streamIDs[i] = int32(id)
		}
		gen, err := generator.New(generator.Config{
			RatePerSecond: cfg.Generator.RatePerSecond,
			StreamIDs:     streamIDs,
			Source:        cfg.Generator.Source,
			EventType:     cfg.Generator.EventType,
			MaxEvents:     cfg.Generator.MaxEvents,
		}, d, logger, metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create generator: %w", err)
		}
		producers = append(producers, component{name: "generator", run: gen.Run})
	}

	// One producer serves the publish topic and every dead letter topic.
	var producer sarama.SyncProducer
	if cfg.Kafka.Publish.Enabled || (cfg.Kafka.Ingest.Enabled && cfg.Kafka.DLQ.Enabled) {
		producer, err = kafka.NewSyncProducer(cfg.Kafka.BootstrapServers, sec)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		addCleanup("kafka-producer", producer.Close)
	}

	var dlq *kafka.DLQ
	if cfg.Kafka.DLQ.Enabled && producer != nil {
		dlq = kafka.NewDLQ(producer, kafka.DLQConfig{TopicSuffix: cfg.Kafka.DLQ.TopicSuffix}, cfg.Application.Name, logger, metrics)
		addCleanup("dlq", dlq.Close)
	}

	if cfg.Kafka.Ingest.Enabled {
		ingest := cfg.Kafka.Ingest
		ingestor, err := kafka.NewIngestor(kafka.IngestConfig{
			SecurityConfig:      sec,
			BootstrapServers:    cfg.Kafka.BootstrapServers,
			GroupID:             ingest.GroupID,
			Topics:              ingest.Topics,
			AutoOffsetReset:     ingest.AutoOffsetReset,
			MaxPollIntervalMS:   ingest.MaxPollIntervalMS,
			SessionTimeoutMS:    ingest.SessionTimeoutMS,
			HeartbeatIntervalMS: ingest.HeartbeatIntervalMS,
			BackpressureWait:    time.Duration(ingest.BackpressureWaitMS) * time.Millisecond,
			ValidateCloudEvents: ingest.ValidateCloudEvents,
		}, d, dlq, logger, metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kafka ingestor: %w", err)
		}
		addCleanup("kafka-ingestor", ingestor.Close)
		producers = append(producers, component{name: "kafka-ingestor", run: ingestor.Run})
	}

	if cfg.Kafka.Publish.Enabled {
		publish := cfg.Kafka.Publish
		sub, ok := d.Subscription(publish.Subscription)
		if !ok {
			return nil, nil, fmt.Errorf("kafka publish subscription %q is not open", publish.Subscription)
		}
		publisher := kafka.NewPublisher(kafka.PublisherConfig{
			Topic:        publish.Topic,
			MaxFragments: publish.MaxFragments,
			IdleWait:     time.Duration(publish.IdleWaitMS) * time.Millisecond,
		}, producer, sub, d.Signals(), dlq, logger, metrics)
		consumers = append(consumers, component{name: "kafka-publisher", run: publisher.Run})
	}

	if cfg.Archive.Enabled {
		a, err := newArchiver(cfg, d, logger, metrics, addCleanup)
		if err != nil {
			return nil, nil, err
		}
		consumers = append(consumers, component{name: "archiver", run: a.Run})
	}

	return producers, consumers, nil
}

func newArchiver(
	cfg *dto.ApplicationConfig,
	d *dispatcher.Dispatcher,
	logger *zap.Logger,
	metrics *observability.Metrics,
	addCleanup func(name string, fn func() error),
) (*archiver.Archiver, error) {
	sub, ok := d.Subscription(cfg.Archive.Subscription)
	if !ok {
		return nil, fmt.Errorf("archive subscription %q is not open", cfg.Archive.Subscription)
	}

	format, err := encoder.ParseFormat(cfg.Storage.Format)
	if err != nil {
		return nil, err
	}
	writer, err := newStorageWriter(cfg.Storage, format, logger, metrics)
	if err != nil {
		return nil, err
	}
	addCleanup("storage-writer", writer.Close)

	basePath := cfg.Storage.BasePath
	if cfg.Storage.Backend == "file" {
		// The file writer already roots paths at its base path.
		basePath = ""
	}
	router := storage.NewRouter(storage.ProtocolFor(cfg.Storage.Backend), cfg.Storage.Bucket(), basePath)
	policy := storage.NewPolicy(storage.PolicyConfig{
		MaxFileSizeMB:      cfg.FileRotation.MaxFileSizeMB,
		MaxRecordsPerFile:  cfg.FileRotation.MaxRecordsPerFile,
		MaxDurationSeconds: cfg.FileRotation.MaxDurationSeconds,
		Strategy:           cfg.FileRotation.Strategy,
	})

	buffers := buffer.NewManager(int64(cfg.Archive.BufferSizeMB)*1024*1024, cfg.Archive.BufferMaxRecords)

	return archiver.New(
		archiver.Config{
			Dispatcher:    d.Name(),
			MaxBlockBytes: cfg.Archive.MaxBlockBytes,
			StreamAware:   cfg.Archive.StreamAware,
			PollInterval:  time.Duration(cfg.Archive.PollIntervalMS) * time.Millisecond,
			Format:        format,
		},
		sub,
		d.Signals(),
		buffers,
		archiver.Sink{Writer: writer, Router: router, Policy: policy},
		logger,
		metrics,
	), nil
}

func newStorageWriter(cfg dto.StorageConfig, format event.FileFormat, logger *zap.Logger, metrics storage.MetricsCollector) (pkgstorage.Writer, error) {
	compression := encoder.NewFactory(format, cfg.Compression).Compression()

	switch cfg.Backend {
	case "file":
		writer, err := storage.NewFileWriter(storage.FileConfig{BasePath: cfg.File.BasePath}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem writer: %w", err)
		}
		return writer, nil
	case "s3":
		writer, err := storage.NewS3Writer(storage.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			SSEEnabled:   cfg.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.S3.SSEKMSKeyID,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 writer: %w", err)
		}
		return writer, nil
	case "azure":
		writer, err := storage.NewAzureWriter(storage.AzureConfig{
			AccountName:   cfg.Azure.AccountName,
			AccountKey:    cfg.Azure.AccountKey,
			ContainerName: cfg.Azure.Container,
			Endpoint:      cfg.Azure.Endpoint,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob writer: %w", err)
		}
		return writer, nil
	case "gcs":
		writer, err := storage.NewGCSWriter(storage.GCSConfig{
			Bucket:               cfg.GCS.Bucket,
			ProjectID:            cfg.GCS.ProjectID,
			CredentialsFile:      cfg.GCS.CredentialsFile,
			CredentialsJSON:      cfg.GCS.CredentialsJSON,
			Endpoint:             cfg.GCS.Endpoint,
			UseDefaultCredential: cfg.GCS.UseDefaultCredential,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS writer: %w", err)
		}
		return writer, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Backend)
	}
}

func kafkaSecurity(cfg dto.KafkaConfig) kafka.SecurityConfig {
	return kafka.SecurityConfig{
		SecurityProtocol:      cfg.SecurityProtocol,
		SASLMechanism:         cfg.SASLMechanism,
		SASLUsername:          cfg.SASLUsername,
		SASLPassword:          cfg.SASLPassword,
		AWSRegion:             cfg.AWSRegion,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
	}
}
