package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/collector"
	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/dispatch"
	"github.com/gosight/gosight/tracker/internal/enricher"
	"github.com/gosight/gosight/tracker/internal/session"
	"github.com/gosight/gosight/tracker/internal/sink"
	"github.com/gosight/gosight/tracker/internal/storage"
	"github.com/gosight/gosight/tracker/internal/tracker"
	"github.com/gosight/gosight/tracker/internal/validation"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/tracker.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}
	setupLogging(cfg.Log)

	log.Info().Msg("Starting GoSight Collector...")

	// Initialize sinks
	sinks, closers := buildSinks(cfg)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close sink")
			}
		}
	}()

	dispatcher := dispatch.New(sinks, cfg.Dispatch)
	log.Info().
		Int("queue_size", cfg.Dispatch.QueueSize).
		Dur("delivery_timeout", cfg.Dispatch.DeliveryTimeout).
		Msg("Dispatcher started")

	engineOpts := []tracker.Option{tracker.WithLogger(log.Logger)}
	if dispatcher.HasBeacon() {
		engineOpts = append(engineOpts, tracker.WithBeacon(dispatcher))
	}
	registry := collector.NewRegistry(quartz.NewReal(), cfg.Server.InstanceTTL, func(env session.Environment) *tracker.Engine {
		return tracker.New(cfg.Tracker, env, dispatcher, engineOpts...)
	})

	handlerOpts := []collector.Option{collector.WithMaxBodySize(cfg.Server.MaxBodySize)}
	if cfg.Postgres.DSN != "" {
		validator, err := validation.NewValidator(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create validator")
		}
		defer validator.Close()
		handlerOpts = append(handlerOpts, collector.WithAuthenticator(validator))
		log.Info().Msg("Validator initialized")
	} else {
		log.Warn().Msg("No postgres DSN configured, API keys are not checked")
	}

	geoEnricher := enricher.NewEnricher(cfg.GeoIP.DatabasePath)
	defer geoEnricher.Close()
	handlerOpts = append(handlerOpts, collector.WithLocator(geoEnricher))

	httpHandler := collector.NewHTTPHandler(registry, handlerOpts...)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpHandler.Routes(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := registry.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Registry reaper stopped")
		}
	}()

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	httpServer.Shutdown(shutdownCtx)
	cancel()
	registry.Close()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Int("pending", dispatcher.Pending()).Msg("Dispatcher did not drain")
	}

	log.Info().
		Uint64("delivered", dispatcher.Delivered()).
		Uint64("failed", dispatcher.Failed()).
		Uint64("dropped", dispatcher.Dropped()).
		Msg("Shutdown complete")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Console {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// buildSinks creates every sink enabled in cfg.Sinks. Closers are returned
// in creation order.
func buildSinks(cfg *config.Config) (sink.Multi, []io.Closer) {
	var sinks sink.Multi
	var closers []io.Closer

	if cfg.Sinks.Log {
		sinks = append(sinks, sink.NewLog(log.Logger))
	}

	if cfg.Sinks.Kafka {
		k, err := sink.NewKafka(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka sink")
		}
		sinks = append(sinks, k)
		closers = append(closers, k)
	}

	if cfg.Sinks.ClickHouse {
		ch, err := storage.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
		}
		log.Info().Msg("Connected to ClickHouse")
		batcher := sink.NewClickHouse(ch, cfg.Batch)
		sinks = append(sinks, batcher)
		// The batcher flushes before the connection closes
		closers = append(closers, ch, batcher)
	}

	if cfg.Sinks.Redis {
		r := sink.NewRedis(cfg.Redis)
		sinks = append(sinks, r)
		closers = append(closers, r)
	}

	return sinks, closers
}
