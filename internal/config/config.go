package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const minJWTSecretLength = 32

var (
	ErrJWTSecret    = fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	ErrStoreBackend = errors.New("STORE_BACKEND must be one of memory, postgres, mongo")
	ErrEventStore   = errors.New("EVENT_STORE must be one of memory, postgres, dynamo")
	ErrDatabaseURL  = errors.New("DATABASE_URL is required for the postgres backend")
	ErrMongoURI     = errors.New("MONGO_URI is required for the mongo backend")
	ErrDeliveryFee  = errors.New("FREE_DELIVERY_THRESHOLD and DELIVERY_FEE must not be negative")
	ErrSMTPPort     = errors.New("SMTP_PORT must be between 1 and 65535")
	ErrSMTPHost     = errors.New("SMTP_HOST is required")
)

type Config struct {
	HTTPAddr  string `mapstructure:"HTTP_ADDR"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	JWTSecret string `mapstructure:"JWT_SECRET"`

	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	EventStore    string `mapstructure:"EVENT_STORE"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`

	RedisAddr    string        `mapstructure:"REDIS_ADDR"`
	CartCacheTTL time.Duration `mapstructure:"CART_CACHE_TTL"`

	KafkaBrokers  string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic    string `mapstructure:"KAFKA_TOPIC"`
	NotifierGroup string `mapstructure:"NOTIFIER_GROUP"`

	DynamoEventsTable string `mapstructure:"DYNAMO_EVENTS_TABLE"`
	AWSRegion         string `mapstructure:"AWS_REGION"`
	DynamoEndpoint    string `mapstructure:"DYNAMO_ENDPOINT"`

	RazorpayKeyID     string        `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret string        `mapstructure:"RAZORPAY_KEY_SECRET"`
	RazorpayBaseURL   string        `mapstructure:"RAZORPAY_BASE_URL"`
	PaymentTimeout    time.Duration `mapstructure:"PAYMENT_TIMEOUT"`

	FreeDeliveryThreshold  string        `mapstructure:"FREE_DELIVERY_THRESHOLD"`
	DeliveryFee            string        `mapstructure:"DELIVERY_FEE"`
	OrderStrictTransitions bool          `mapstructure:"ORDER_STRICT_TRANSITIONS"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort int    `mapstructure:"SMTP_PORT"`
	SMTPFrom string `mapstructure:"SMTP_FROM"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                ":8080",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "json",
	"JWT_SECRET":               "",
	"STORE_BACKEND":            "memory",
	"EVENT_STORE":              "memory",
	"DATABASE_URL":             "",
	"MONGO_URI":                "",
	"MONGO_DATABASE":           "shop",
	"REDIS_ADDR":               "",
	"CART_CACHE_TTL":           "15m",
	"KAFKA_BROKERS":            "",
	"KAFKA_TOPIC":              "shop-events",
	"NOTIFIER_GROUP":           "shop-notifier",
	"DYNAMO_EVENTS_TABLE":      "shop-events",
	"AWS_REGION":               "ap-south-1",
	"DYNAMO_ENDPOINT":          "",
	"RAZORPAY_KEY_ID":          "",
	"RAZORPAY_KEY_SECRET":      "",
	"RAZORPAY_BASE_URL":        "https://api.razorpay.com",
	"PAYMENT_TIMEOUT":          "10s",
	"FREE_DELIVERY_THRESHOLD":  "500",
	"DELIVERY_FEE":             "50",
	"ORDER_STRICT_TRANSITIONS": false,
	"REQUEST_TIMEOUT":          "30s",
	"SMTP_HOST":                "localhost",
	"SMTP_PORT":                1025,
	"SMTP_FROM":                "orders@shop.local",
}

// Load reads configuration from the environment, optionally overlaid on the
// file named by CONFIG_FILE, and validates it.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadNotifier reads the same sources as Load but only checks the logging
// and mail settings, so notifier processes need no API secrets.
func LoadNotifier() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateMail(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// ValidateMail checks the SMTP settings.
func (c *Config) ValidateMail() error {
	if strings.TrimSpace(c.SMTPHost) == "" {
		return ErrSMTPHost
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		return ErrSMTPPort
	}
	return nil
}

func (c *Config) Validate() error {
	if len(c.JWTSecret) < minJWTSecretLength {
		return ErrJWTSecret
	}

	switch c.StoreBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return ErrDatabaseURL
		}
	case "mongo":
		if c.MongoURI == "" {
			return ErrMongoURI
		}
	default:
		return ErrStoreBackend
	}

	switch c.EventStore {
	case "memory", "dynamo":
	case "postgres":
		if c.DatabaseURL == "" {
			return ErrDatabaseURL
		}
	default:
		return ErrEventStore
	}

	threshold, fee, err := c.DeliveryPolicy()
	if err != nil {
		return err
	}
	if threshold.IsNegative() || fee.IsNegative() {
		return ErrDeliveryFee
	}
	return c.ValidateMail()
}

// DeliveryPolicy parses the free-delivery threshold and flat fee.
func (c *Config) DeliveryPolicy() (threshold, fee decimal.Decimal, err error) {
	threshold, err = decimal.NewFromString(c.FreeDeliveryThreshold)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("FREE_DELIVERY_THRESHOLD: %w", err)
	}
	fee, err = decimal.NewFromString(c.DeliveryFee)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("DELIVERY_FEE: %w", err)
	}
	return threshold, fee, nil
}

// Brokers splits KAFKA_BROKERS on commas. Empty means Kafka is disabled.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// SMTPAddr is the host:port the mailer dials.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}
