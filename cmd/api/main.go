package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/shop-checkout/internal/api"
	"github.com/example/shop-checkout/internal/auth"
	"github.com/example/shop-checkout/internal/command"
	"github.com/example/shop-checkout/internal/config"
	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/inventory"
	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/payment"
	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/example/shop-checkout/internal/infrastructure/cache"
	"github.com/example/shop-checkout/internal/infrastructure/kafka"
	"github.com/example/shop-checkout/internal/infrastructure/razorpay"
	"github.com/example/shop-checkout/internal/infrastructure/repository"
	"github.com/example/shop-checkout/internal/infrastructure/store"
	"github.com/example/shop-checkout/internal/logging"
	"github.com/example/shop-checkout/internal/metrics"
	"github.com/example/shop-checkout/internal/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "json")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat), "API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api stopped")
	}
}

// backends is the storage chosen by STORE_BACKEND.
type backends struct {
	products product.Repository
	carts    cart.Repository
	coupons  coupon.Repository
	orders   order.Repository
	closers  []func() error
}

func (b *backends) close(logger zerolog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("close backend")
		}
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	decimal.MarshalJSONWithoutQuotes = true

	b := &backends{}
	defer b.close(logger)

	var db *sql.DB
	if cfg.StoreBackend == "postgres" || cfg.EventStore == "postgres" {
		var err error
		if db, err = store.ConnectPostgres(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		b.closers = append(b.closers, db.Close)
		if err := store.RunMigrations(db); err != nil {
			return err
		}
		logger.Info().Msg("connected to PostgreSQL, migrations applied")
	}

	if err := openStorage(ctx, cfg, db, b, logger); err != nil {
		return err
	}

	eventStore, err := openEventStore(ctx, cfg, db, b)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	threshold, fee, err := cfg.DeliveryPolicy()
	if err != nil {
		return err
	}

	productSvc := product.NewService(b.products, eventStore)
	cartSvc := cart.NewService(b.carts, b.products)
	couponSvc := coupon.NewService(b.coupons)
	orderSvc := order.NewService(b.orders, eventStore,
		order.WithStrictTransitions(cfg.OrderStrictTransitions),
		order.WithLogger(logging.Component(logger, "Orders")),
	)

	cmdHandler := command.NewHandler(command.Dependencies{
		Products:  productSvc,
		Carts:     cartSvc,
		Coupons:   couponSvc,
		Orders:    orderSvc,
		Inventory: inventory.NewService(b.products),
		Payments:  payment.NewService(paymentGateway(cfg, logger), payment.NewVerifier(cfg.RazorpayKeySecret)),
		Delivery:  order.DeliveryPolicy{FreeThreshold: threshold, Fee: fee},
		Metrics:   m,
		Logger:    logging.Component(logger, "Checkout"),
	})
	queryHandler := query.NewHandler(productSvc, cartSvc, couponSvc, orderSvc, logger)

	router := api.NewRouter(api.NewHandlers(cmdHandler, queryHandler, logger), api.RouterConfig{
		JWT:            auth.NewJWTService(cfg.JWTSecret, 15*time.Minute),
		Logger:         logging.Component(logger, "HTTP"),
		Metrics:        m,
		Gatherer:       reg,
		RequestTimeout: cfg.RequestTimeout,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("store", cfg.StoreBackend).
			Str("event_store", cfg.EventStore).
			Msg("server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStorage(ctx context.Context, cfg *config.Config, db *sql.DB, b *backends, logger zerolog.Logger) error {
	switch cfg.StoreBackend {
	case "postgres":
		b.products = repository.NewPostgresProductRepository(db)
		b.carts = repository.NewPostgresCartRepository(db)
		b.coupons = repository.NewPostgresCouponRepository(db)
		b.orders = repository.NewPostgresOrderRepository(db)
	case "mongo":
		mdb, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() error {
			return mdb.Client().Disconnect(context.Background())
		})
		if err := repository.EnsureMongoIndexes(ctx, mdb); err != nil {
			return err
		}
		b.products = repository.NewMongoProductRepository(mdb)
		b.carts = repository.NewMongoCartRepository(mdb)
		b.coupons = repository.NewMongoCouponRepository(mdb)
		b.orders = repository.NewMongoOrderRepository(mdb)
		logger.Info().Str("database", cfg.MongoDatabase).Msg("connected to MongoDB")
	default:
		b.products = repository.NewMemoryProductRepository()
		b.carts = repository.NewMemoryCartRepository()
		b.coupons = repository.NewMemoryCouponRepository()
		b.orders = repository.NewMemoryOrderRepository()
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("ping redis: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.carts = cache.NewCartRepository(b.carts, cache.NewRedisCache(client, cfg.CartCacheTTL), logging.Component(logger, "CartCache"))
		logger.Info().Str("addr", cfg.RedisAddr).Msg("cart cache enabled")
	}
	return nil
}

func openEventStore(ctx context.Context, cfg *config.Config, db *sql.DB, b *backends) (store.EventStoreInterface, error) {
	var publisher store.Publisher
	if brokers := cfg.Brokers(); len(brokers) > 0 && cfg.EventStore != "dynamo" {
		producer := kafka.NewProducer(brokers, cfg.KafkaTopic)
		b.closers = append(b.closers, producer.Close)
		publisher = producer
	}

	switch cfg.EventStore {
	case "postgres":
		return store.NewPostgresEventStore(db, publisher), nil
	case "dynamo":
		client, err := store.NewDynamoClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		return store.NewDynamoEventStore(client, cfg.DynamoEventsTable), nil
	default:
		return store.NewEventStore(publisher), nil
	}
}

func paymentGateway(cfg *config.Config, logger zerolog.Logger) payment.Gateway {
	if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
		logger.Warn().Msg("RAZORPAY_KEY_ID not set, payment intents are issued offline")
		return payment.OfflineGateway{}
	}
	return razorpay.NewClient(razorpay.Config{
		BaseURL:   cfg.RazorpayBaseURL,
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		Timeout:   cfg.PaymentTimeout,
	}, logging.Component(logger, "Razorpay"))
}
