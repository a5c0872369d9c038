/**
 * @description
 * This package handles the configuration management for the wallet-service. It uses the
 * Viper library to read configuration from environment variables, with an optional
 * `.env` file in the given path.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - pkg/money: For converting whole-naira fee aliases into kobo.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/transfa/wallet-service/pkg/money"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	EventBrokerRabbitMQ = "rabbitmq"
	EventBrokerKafka    = "kafka"
	EventBrokerNone     = "none"
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                  string  `mapstructure:"SERVER_PORT"`
	LogLevel                    string  `mapstructure:"LOG_LEVEL"`
	DatabaseURL                 string  `mapstructure:"DATABASE_URL"`
	StoreDriver                 string  `mapstructure:"STORE_DRIVER"`
	AutoMigrate                 bool    `mapstructure:"AUTO_MIGRATE"`
	JWTJWKSURL                  string  `mapstructure:"JWT_JWKS_URL"`
	JWTHMACSecret               string  `mapstructure:"JWT_HMAC_SECRET"`
	JWTAudience                 string  `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer                   string  `mapstructure:"JWT_ISSUER"`
	InternalAPIKey              string  `mapstructure:"INTERNAL_API_KEY"`
	PlatformAccountID           string  `mapstructure:"PLATFORM_ACCOUNT_ID"`
	TransferFeeMode             string  `mapstructure:"TRANSFER_FEE_MODE"`
	TransferFeeKobo             int64   `mapstructure:"TRANSFER_FEE_KOBO"`
	TransferFeePercent          float64 `mapstructure:"TRANSFER_FEE_PERCENT"`
	TransferFeeCapKobo          int64   `mapstructure:"TRANSFER_FEE_CAP_KOBO"`
	MinTransferAmountKobo       int64   `mapstructure:"MIN_TRANSFER_AMOUNT_KOBO"`
	MaxTransferAmountKobo       int64   `mapstructure:"MAX_TRANSFER_AMOUNT_KOBO"`
	TransferMaxRetries          int     `mapstructure:"TRANSFER_MAX_RETRIES"`
	TransferRateLimitPerMinute  int     `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	AccountNumberPrefix         string  `mapstructure:"ACCOUNT_NUMBER_PREFIX"`
	AccountNumberDigits         int     `mapstructure:"ACCOUNT_NUMBER_DIGITS"`
	AccountNumberMaxAttempts    int     `mapstructure:"ACCOUNT_NUMBER_MAX_ATTEMPTS"`
	PINMaxAttempts              int     `mapstructure:"PIN_MAX_ATTEMPTS"`
	PINLockoutSeconds           int     `mapstructure:"PIN_LOCKOUT_SECONDS"`
	PINVerifyRateLimitPerMinute int     `mapstructure:"PIN_VERIFY_RATE_LIMIT_PER_MINUTE"`
	IdempotencyTTLMinutes       int     `mapstructure:"IDEMPOTENCY_TTL_MINUTES"`
	IdempotencyStaleSeconds     int     `mapstructure:"IDEMPOTENCY_STALE_SECONDS"`
	IdempotencyPurgeSchedule    string  `mapstructure:"IDEMPOTENCY_PURGE_SCHEDULE"`
	RedisURL                    string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	EventBroker                 string  `mapstructure:"EVENT_BROKER"`
	RabbitMQURL                 string  `mapstructure:"RABBITMQ_URL"`
	EventExchange               string  `mapstructure:"EVENT_EXCHANGE"`
	CollaboratorEventQueue      string  `mapstructure:"COLLABORATOR_EVENT_QUEUE"`
	DeadLetterExchange          string  `mapstructure:"COLLABORATOR_DEAD_LETTER_EXCHANGE"`
	KafkaBrokers                string  `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic                  string  `mapstructure:"KAFKA_TOPIC"`
	CORSAllowedOrigins          string  `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// PINLockout is the cooldown applied after too many wrong PINs.
func (c Config) PINLockout() time.Duration {
	return time.Duration(c.PINLockoutSeconds) * time.Second
}

// IdempotencyTTL is how long a completed transfer key keeps replaying.
func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLMinutes) * time.Minute
}

// IdempotencyStale is how long a processing key blocks before it can be reclaimed.
func (c Config) IdempotencyStale() time.Duration {
	return time.Duration(c.IdempotencyStaleSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("AUTO_MIGRATE", false)
	viper.SetDefault("PLATFORM_ACCOUNT_ID", "platform-fees")
	viper.SetDefault("TRANSFER_FEE_MODE", "flat")
	viper.SetDefault("TRANSFER_FEE_KOBO", 5000)
	viper.SetDefault("TRANSFER_FEE_PERCENT", 0.0)
	viper.SetDefault("TRANSFER_FEE_CAP_KOBO", 0)
	viper.SetDefault("MIN_TRANSFER_AMOUNT_KOBO", 10000)
	viper.SetDefault("MAX_TRANSFER_AMOUNT_KOBO", 0)
	viper.SetDefault("TRANSFER_MAX_RETRIES", 3)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("ACCOUNT_NUMBER_PREFIX", "LAN")
	viper.SetDefault("ACCOUNT_NUMBER_DIGITS", 8)
	viper.SetDefault("ACCOUNT_NUMBER_MAX_ATTEMPTS", 5)
	viper.SetDefault("PIN_MAX_ATTEMPTS", 3)
	viper.SetDefault("PIN_LOCKOUT_SECONDS", 900)
	viper.SetDefault("PIN_VERIFY_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("IDEMPOTENCY_TTL_MINUTES", 1440)
	viper.SetDefault("IDEMPOTENCY_STALE_SECONDS", 120)
	viper.SetDefault("IDEMPOTENCY_PURGE_SCHEDULE", "@every 15m")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "wallet:rate_limit")
	viper.SetDefault("EVENT_BROKER", EventBrokerRabbitMQ)
	viper.SetDefault("EVENT_EXCHANGE", "wallet.events")
	viper.SetDefault("COLLABORATOR_EVENT_QUEUE", "wallet_service.collaborator_events")
	viper.SetDefault("COLLABORATOR_DEAD_LETTER_EXCHANGE", "wallet.events.dlx")
	viper.SetDefault("KAFKA_TOPIC", "wallet.events")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("AUTO_MIGRATE")
	_ = viper.BindEnv("JWT_JWKS_URL", "JWT_JWKS_URL", "CLERK_JWKS_URL")
	_ = viper.BindEnv("JWT_HMAC_SECRET")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "WALLET_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PLATFORM_ACCOUNT_ID")
	_ = viper.BindEnv("TRANSFER_FEE_MODE")
	_ = viper.BindEnv("TRANSFER_FEE_KOBO")
	_ = viper.BindEnv("TRANSFER_FEE")
	_ = viper.BindEnv("TRANSFER_FEE_NAIRA")
	_ = viper.BindEnv("TRANSFER_FEE_PERCENT")
	_ = viper.BindEnv("TRANSFER_FEE_CAP_KOBO")
	_ = viper.BindEnv("MIN_TRANSFER_AMOUNT_KOBO")
	_ = viper.BindEnv("MAX_TRANSFER_AMOUNT_KOBO")
	_ = viper.BindEnv("TRANSFER_MAX_RETRIES")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("ACCOUNT_NUMBER_PREFIX")
	_ = viper.BindEnv("ACCOUNT_NUMBER_DIGITS")
	_ = viper.BindEnv("ACCOUNT_NUMBER_MAX_ATTEMPTS")
	_ = viper.BindEnv("PIN_MAX_ATTEMPTS")
	_ = viper.BindEnv("PIN_LOCKOUT_SECONDS")
	_ = viper.BindEnv("PIN_VERIFY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("IDEMPOTENCY_TTL_MINUTES")
	_ = viper.BindEnv("IDEMPOTENCY_STALE_SECONDS")
	_ = viper.BindEnv("IDEMPOTENCY_PURGE_SCHEDULE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WALLET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("EVENT_BROKER")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("COLLABORATOR_EVENT_QUEUE")
	_ = viper.BindEnv("COLLABORATOR_DEAD_LETTER_EXCHANGE")
	_ = viper.BindEnv("KAFKA_BROKERS")
	_ = viper.BindEnv("KAFKA_TOPIC")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "wallet:rate_limit"
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != StoreDriverMemory {
		config.StoreDriver = StoreDriverPostgres
	}
	config.EventBroker = strings.ToLower(strings.TrimSpace(config.EventBroker))
	switch config.EventBroker {
	case EventBrokerRabbitMQ, EventBrokerKafka, EventBrokerNone:
	default:
		log.Printf("level=warn component=config msg=\"unknown event broker; disabling events\" broker=%q", config.EventBroker)
		config.EventBroker = EventBrokerNone
	}
	config.TransferFeeMode = strings.ToLower(strings.TrimSpace(config.TransferFeeMode))
	config.AccountNumberPrefix = strings.ToUpper(strings.TrimSpace(config.AccountNumberPrefix))

	// Allow specifying the fee in whole naira via TRANSFER_FEE or TRANSFER_FEE_NAIRA.
	for _, key := range []string{"TRANSFER_FEE", "TRANSFER_FEE_NAIRA"} {
		if !viper.IsSet(key) {
			continue
		}
		feeStr := strings.TrimSpace(viper.GetString(key))
		if feeStr == "" {
			continue
		}
		feeKobo, parseErr := money.ToMinor(feeStr)
		if parseErr != nil {
			log.Printf("level=warn component=config msg=\"invalid %s\" value=%q err=%v", key, feeStr, parseErr)
			continue
		}
		config.TransferFeeKobo = feeKobo
		break
	}

	if config.TransferFeeKobo < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer fee configured; coercing to zero\" fee_kobo=%d", config.TransferFeeKobo)
		config.TransferFeeKobo = 0
	}
	if config.TransferFeeCapKobo < 0 {
		config.TransferFeeCapKobo = 0
	}
	if config.TransferFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer fee percent configured; coercing to zero\" fee_percent=%f", config.TransferFeePercent)
		config.TransferFeePercent = 0
	}
	if config.MinTransferAmountKobo <= 0 {
		config.MinTransferAmountKobo = 10000
	}
	if config.MaxTransferAmountKobo != 0 && config.MaxTransferAmountKobo < config.MinTransferAmountKobo {
		log.Printf("level=warn component=config msg=\"max transfer amount below minimum; disabling cap\" max_transfer_amount_kobo=%d", config.MaxTransferAmountKobo)
		config.MaxTransferAmountKobo = 0
	}
	if config.TransferMaxRetries <= 0 {
		config.TransferMaxRetries = 3
	}
	if config.TransferRateLimitPerMinute < 0 {
		config.TransferRateLimitPerMinute = 0
	}
	if config.AccountNumberDigits < 4 || config.AccountNumberDigits > 18 {
		log.Printf("level=warn component=config msg=\"account number digits out of range; using 8\" digits=%d", config.AccountNumberDigits)
		config.AccountNumberDigits = 8
	}
	if config.AccountNumberMaxAttempts <= 0 {
		config.AccountNumberMaxAttempts = 5
	}
	if config.PINMaxAttempts <= 0 {
		config.PINMaxAttempts = 3
	}
	if config.PINLockoutSeconds <= 0 {
		config.PINLockoutSeconds = 900
	}
	if config.PINVerifyRateLimitPerMinute < 0 {
		config.PINVerifyRateLimitPerMinute = 0
	}
	if config.IdempotencyTTLMinutes <= 0 {
		config.IdempotencyTTLMinutes = 1440
	}
	if config.IdempotencyStaleSeconds <= 0 {
		config.IdempotencyStaleSeconds = 120
	}
	if strings.TrimSpace(config.IdempotencyPurgeSchedule) == "" {
		config.IdempotencyPurgeSchedule = "@every 15m"
	}

	return
}
