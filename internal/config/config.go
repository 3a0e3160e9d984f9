/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the reconciliation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisIdempotencyPrefix    string `mapstructure:"REDIS_IDEMPOTENCY_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	SyncBatchQueue            string `mapstructure:"SYNC_BATCH_QUEUE"`
	EventsExchange            string `mapstructure:"EVENTS_EXCHANGE"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	OperatorJWKSURL           string `mapstructure:"OPERATOR_JWKS_URL"`
	BulkUpsertConcurrency     int    `mapstructure:"BULK_UPSERT_CONCURRENCY"`
	BatchIdempotencyTTLMin    int    `mapstructure:"BATCH_IDEMPOTENCY_TTL_MINUTES"`
	FuzzyMatchMaxDistance     int    `mapstructure:"FUZZY_MATCH_MAX_DISTANCE"`
	MostRecentTxLookbackLimit int    `mapstructure:"MOST_RECENT_TX_LOOKBACK_LIMIT"`
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
	viper.SetDefault("SYNC_BATCH_QUEUE", "reconciliation_service.sync_batches")
	viper.SetDefault("EVENTS_EXCHANGE", "reconciliation.events")
	viper.SetDefault("REDIS_IDEMPOTENCY_PREFIX", "reconciliation:batch")
	viper.SetDefault("BULK_UPSERT_CONCURRENCY", 30)
	viper.SetDefault("BATCH_IDEMPOTENCY_TTL_MINUTES", 1440)
	viper.SetDefault("FUZZY_MATCH_MAX_DISTANCE", 3)
	viper.SetDefault("MOST_RECENT_TX_LOOKBACK_LIMIT", 100)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "RECONCILIATION_REDIS_URL")
	_ = viper.BindEnv("REDIS_IDEMPOTENCY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SYNC_BATCH_QUEUE")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "RECONCILIATION_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("OPERATOR_JWKS_URL")
	_ = viper.BindEnv("BULK_UPSERT_CONCURRENCY")
	_ = viper.BindEnv("BATCH_IDEMPOTENCY_TTL_MINUTES")
	_ = viper.BindEnv("FUZZY_MATCH_MAX_DISTANCE")
	_ = viper.BindEnv("MOST_RECENT_TX_LOOKBACK_LIMIT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("RECONCILIATION_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisIdempotencyPrefix = strings.TrimSpace(config.RedisIdempotencyPrefix)
	if config.RedisIdempotencyPrefix == "" {
		config.RedisIdempotencyPrefix = "reconciliation:batch"
	}

	if config.BulkUpsertConcurrency <= 0 {
		log.Printf("level=warn component=config msg=\"invalid bulk upsert concurrency; using default\" value=%d", config.BulkUpsertConcurrency)
		config.BulkUpsertConcurrency = 30
	}
	if config.BatchIdempotencyTTLMin <= 0 {
		config.BatchIdempotencyTTLMin = 1440
	}
	if config.FuzzyMatchMaxDistance <= 0 {
		config.FuzzyMatchMaxDistance = 3
	}
	if config.MostRecentTxLookbackLimit <= 0 {
		config.MostRecentTxLookbackLimit = 100
	}

	return
}
