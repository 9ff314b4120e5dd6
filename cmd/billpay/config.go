package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/billpay/internal/logger"
	"github.com/nkiryanov/billpay/internal/service/fraud"
	"github.com/nkiryanov/billpay/internal/service/notify"
	"github.com/nkiryanov/billpay/internal/service/pendingprocessor"
	"github.com/nkiryanov/billpay/internal/service/provider"
	"github.com/nkiryanov/billpay/internal/service/settlement"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the billpay service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Environment
	Environment string

	// Redis address for idempotency keys, requests are not de-duplicated if empty
	RedisAddr string

	// Kafka brokers for notification events, only in-app inbox is used if empty
	KafkaBrokers      []string
	NotificationTopic string

	// Providers: the one without credentials is skipped
	FlutterwaveBaseURL   string
	FlutterwaveSecretKey string
	VTPassBaseURL        string
	VTPassUsername       string
	VTPassPassword       string
	BaxiBaseURL          string
	BaxiAPIKey           string
	ProviderTimeout      time.Duration

	// Bill limits
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	VelocityLimit int

	// Reject unknown billers instead of falling back to the default one
	StrictBillers bool

	// How often pending payments are verified with providers
	PendingInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:           defaultLoggingLevel,
		ListenAddr:         defaultListenAddr,
		Environment:        defaultEnvironment,
		NotificationTopic:  notify.DefaultTopic,
		FlutterwaveBaseURL: provider.FlutterwaveBaseURL,
		VTPassBaseURL:      provider.VTPassBaseURL,
		BaxiBaseURL:        provider.BaxiBaseURL,
		ProviderTimeout:    provider.DefaultTimeout,
		MinAmount:          decimal.NewFromInt(settlement.DefaultMinAmount),
		MaxAmount:          decimal.NewFromInt(fraud.DefaultMaxAmount),
		VelocityLimit:      fraud.DefaultMaxPerWindow,
		PendingInterval:    pendingprocessor.DefaultProduceInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = strings.Split(value, ",")
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) (err error) {
			if value != "" {
				*o, err = time.ParseDuration(value)
			}
			return err
		}
	}
	setDecimal := func(o *decimal.Decimal) func(value string) error {
		return func(value string) (err error) {
			if value != "" {
				*o, err = decimal.NewFromString(value)
			}
			return err
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) (err error) {
			if value != "" {
				*o, err = strconv.Atoi(value)
			}
			return err
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) (err error) {
			if value != "" {
				*o, err = strconv.ParseBool(value)
			}
			return err
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":            setString(&c.ListenAddr),
		"DATABASE_URI":           setString(&c.DatabaseDSN),
		"LOG_LEVEL":              setString(&c.LogLevel),
		"ENVIRONMENT":            setString(&c.Environment),
		"REDIS_ADDR":             setString(&c.RedisAddr),
		"KAFKA_BROKERS":          setList(&c.KafkaBrokers),
		"NOTIFICATION_TOPIC":     setString(&c.NotificationTopic),
		"FLUTTERWAVE_BASE_URL":   setString(&c.FlutterwaveBaseURL),
		"FLUTTERWAVE_SECRET_KEY": setString(&c.FlutterwaveSecretKey),
		"VTPASS_BASE_URL":        setString(&c.VTPassBaseURL),
		"VTPASS_USERNAME":        setString(&c.VTPassUsername),
		"VTPASS_PASSWORD":        setString(&c.VTPassPassword),
		"BAXI_BASE_URL":          setString(&c.BaxiBaseURL),
		"BAXI_API_KEY":           setString(&c.BaxiAPIKey),
		"PROVIDER_TIMEOUT":       setDuration(&c.ProviderTimeout),
		"BILL_MIN_AMOUNT":        setDecimal(&c.MinAmount),
		"BILL_MAX_AMOUNT":        setDecimal(&c.MaxAmount),
		"VELOCITY_LIMIT":         setInt(&c.VelocityLimit),
		"STRICT_BILLERS":         setBool(&c.StrictBillers),
		"PENDING_INTERVAL":       setDuration(&c.PendingInterval),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("billpay", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.RedisAddr, "redis", "r", c.RedisAddr, "Redis address for idempotency keys")
	fs.StringSliceVarP(&c.KafkaBrokers, "kafka-brokers", "k", c.KafkaBrokers, "Kafka brokers for notification events")
	fs.StringVar(&c.NotificationTopic, "notification-topic", c.NotificationTopic, "Kafka topic for notification events")
	fs.StringVar(&c.FlutterwaveBaseURL, "flutterwave-url", c.FlutterwaveBaseURL, "Flutterwave API base url")
	fs.StringVar(&c.FlutterwaveSecretKey, "flutterwave-secret-key", c.FlutterwaveSecretKey, "Flutterwave secret key")
	fs.StringVar(&c.VTPassBaseURL, "vtpass-url", c.VTPassBaseURL, "VTPass API base url")
	fs.StringVar(&c.VTPassUsername, "vtpass-username", c.VTPassUsername, "VTPass username")
	fs.StringVar(&c.VTPassPassword, "vtpass-password", c.VTPassPassword, "VTPass password")
	fs.StringVar(&c.BaxiBaseURL, "baxi-url", c.BaxiBaseURL, "Baxi API base url")
	fs.StringVar(&c.BaxiAPIKey, "baxi-api-key", c.BaxiAPIKey, "Baxi API key")
	fs.DurationVar(&c.ProviderTimeout, "provider-timeout", c.ProviderTimeout, "Timeout of one provider call")
	fs.Var((*decimalValue)(&c.MinAmount), "min-amount", "Minimum bill amount")
	fs.Var((*decimalValue)(&c.MaxAmount), "max-amount", "Maximum bill amount")
	fs.IntVar(&c.VelocityLimit, "velocity-limit", c.VelocityLimit, "Bill payments allowed per minute")
	fs.BoolVar(&c.StrictBillers, "strict-billers", c.StrictBillers, "Reject unknown billers")
	fs.DurationVar(&c.PendingInterval, "pending-interval", c.PendingInterval, "How often pending payments are verified")

	return fs.Parse(args)
}

// decimalValue adapts decimal.Decimal to pflag.Value
type decimalValue decimal.Decimal

func (d *decimalValue) String() string {
	return decimal.Decimal(*d).String()
}

func (d *decimalValue) Set(s string) error {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*d = decimalValue(v)
	return nil
}

func (d *decimalValue) Type() string {
	return "decimal"
}
