package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jittakal/logdispatch/internal/config"
	"github.com/jittakal/logdispatch/internal/dispatcher"
	"github.com/jittakal/logdispatch/internal/observability"
	"github.com/jittakal/logdispatch/internal/scheduler"
	"github.com/jittakal/logdispatch/internal/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

// component is a long running loop started by the daemon.
type component struct {
	name string
	run  func(ctx context.Context) error
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting log dispatcher",
		zap.String("version", cfg.Application.Version),
		zap.String("environment", cfg.Application.Environment),
		zap.String("dispatcher", cfg.Dispatcher.Name),
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Cleanups run in reverse registration order.
	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, func() error {
			if err := fn(); err != nil {
				logger.Error("cleanup failed", zap.String("component", name), zap.Error(err))
				return err
			}
			return nil
		})
		logger.Debug("registered cleanup", zap.String("component", name))
	}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			_ = cleanupFuncs[i]()
		}
	}()

	actor := scheduler.NewActor(cfg.Dispatcher.Name+"-scheduler", logger)
	addCleanup("scheduler", actor.Close)

	d, err := newDispatcher(cfg.Dispatcher, actor, logger, metrics)
	if err != nil {
		return err
	}
	addCleanup("dispatcher", d.Close)
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	producers, consumers, err := newComponents(cfg, d, logger, metrics, addCleanup)
	if err != nil {
		return err
	}

	httpServer := server.NewServer(
		server.Config{
			Port:           cfg.Observability.Health.Port,
			LivenessPath:   cfg.Observability.Health.LivenessPath,
			ReadinessPath:  cfg.Observability.Health.ReadinessPath,
			MetricsEnabled: cfg.Observability.Metrics.Enabled,
			MetricsPath:    cfg.Observability.Metrics.Path,
		},
		dispatcher.NewHealthChecker(d),
		registry,
		logger,
	)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	// Consumers outlive producers so they can drain what is left.
	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()
	producerCtx, cancelProducers := context.WithCancel(consumerCtx)
	defer cancelProducers()

	errChan := make(chan error, len(producers)+len(consumers))
	consumerWG := start(consumerCtx, consumers, errChan, logger)
	producerWG := start(producerCtx, producers, errChan, logger)

	logger.Info("application started successfully",
		zap.Int("producers", len(producers)),
		zap.Int("consumers", len(consumers)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received termination signal", zap.String("signal", sig.String()))
	case runErr = <-errChan:
		logger.Error("component failed", zap.Error(runErr))
	}

	logger.Info("initiating graceful shutdown")
	cancelProducers()
	producerWG.Wait()

	grace := cfg.Shutdown.GracePeriod()
	if drained := awaitDrained(d, grace); !drained {
		logger.Warn("subscriptions did not drain within grace period",
			zap.Duration("grace_period", grace),
			zap.Int64("publisher_position", d.PublisherPosition()),
		)
	}
	cancelConsumers()
	consumerWG.Wait()

	logger.Info("application stopped")
	return runErr
}

// start runs each component in its own goroutine. A component error is
// reported on errChan.
func start(ctx context.Context, components []component, errChan chan<- error, logger *zap.Logger) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, c := range components {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			logger.Info("starting component", zap.String("component", c.name))
			if err := c.run(ctx); err != nil {
				errChan <- fmt.Errorf("%s: %w", c.name, err)
			}
		}(c)
	}
	return &wg
}

// awaitDrained waits until every subscription has caught up with the
// publisher, or the grace period ends.
func awaitDrained(d *dispatcher.Dispatcher, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		drained := true
		publisher := d.PublisherPosition()
		for _, s := range d.Subscriptions() {
			if s.Position() < publisher {
				drained = false
				break
			}
		}
		if drained {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
