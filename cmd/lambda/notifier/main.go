package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/shop-checkout/internal/config"
	"github.com/example/shop-checkout/internal/email"
	"github.com/example/shop-checkout/internal/infrastructure/kinesis"
	"github.com/example/shop-checkout/internal/logging"
	"github.com/example/shop-checkout/internal/notification"
	"github.com/rs/zerolog"
)

var (
	logger              zerolog.Logger
	notificationHandler *notification.Handler
)

func init() {
	cfg, err := config.LoadNotifier()
	if err != nil {
		bootLogger := logging.New("info", "json")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger = logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat), "LambdaNotifier")

	mailer := email.NewService(cfg.SMTPAddr(), cfg.SMTPFrom, nil)
	notificationHandler = notification.NewHandler(mailer, logger)

	logger.Info().Str("smtp", cfg.SMTPAddr()).Msg("initialized")
}

func handler(ctx context.Context, batch events.KinesisEvent) (events.KinesisEventResponse, error) {
	return kinesis.Process(ctx, batch, notificationHandler.HandleEvent, logger), nil
}

func main() {
	lambda.Start(handler)
}
