package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/consumer"
	"github.com/gosight/gosight/tracker/internal/sink"
	"github.com/gosight/gosight/tracker/internal/storage"
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
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Str("redis_addr", cfg.Redis.Addr).
		Int("batch_size", cfg.Batch.Size).
		Dur("flush_interval", cfg.Batch.FlushInterval).
		Msg("Configuration loaded")

	// Initialize ClickHouse
	ch, err := storage.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer ch.Close()
	log.Info().Msg("Connected to ClickHouse")

	if err := ch.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to create ClickHouse tables")
	}

	batcher := sink.NewClickHouse(ch, cfg.Batch)
	sinks := sink.Multi{batcher}

	// Initialize session aggregation
	var redisSink *sink.Redis
	if cfg.Redis.Addr != "" {
		redisSink = sink.NewRedis(cfg.Redis)
		sinks = append(sinks, redisSink)
		log.Info().Msg("Session aggregator initialized")
	}

	kafkaConsumer, err := consumer.NewKafkaConsumer(cfg.Kafka, sinks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
	}

	// Start consuming
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		kafkaConsumer.Start(ctx)
		close(done)
	}()

	log.Info().Msg("Signal writer started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()
	<-done
	kafkaConsumer.Close()

	if err := batcher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to flush final batch")
	}
	if redisSink != nil {
		redisSink.Close()
	}

	log.Info().Msg("Shutdown complete")
}
