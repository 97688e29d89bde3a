package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/example/shop-checkout/internal/config"
	"github.com/example/shop-checkout/internal/email"
	"github.com/example/shop-checkout/internal/infrastructure/kafka"
	"github.com/example/shop-checkout/internal/logging"
	"github.com/example/shop-checkout/internal/notification"
)

func main() {
	cfg, err := config.LoadNotifier()
	if err != nil {
		bootLogger := logging.New("info", "json")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat), "Notifier")

	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		logger.Fatal().Msg("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mailer := email.NewService(cfg.SMTPAddr(), cfg.SMTPFrom, nil)
	handler := notification.NewHandler(mailer, logger)

	consumer := kafka.NewConsumer(brokers, cfg.KafkaTopic, cfg.NotifierGroup, logger)
	defer consumer.Close()

	logger.Info().
		Strs("brokers", brokers).
		Str("topic", cfg.KafkaTopic).
		Str("group", cfg.NotifierGroup).
		Str("smtp", cfg.SMTPAddr()).
		Msg("consuming order events")

	if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("consumer stopped")
	}
	logger.Info().Msg("shut down")
}
