package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	Vault    Vault    `mapstructure:"vault"`
	Trigger  Trigger  `mapstructure:"trigger"`
	Exchange Exchange `mapstructure:"exchange"`
	Webhook  Webhook  `mapstructure:"webhook"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Vault holds the credential encryption settings.
type Vault struct {
	// EncryptionKey is the hex-encoded 32-byte AES key. The process refuses to
	// start without a valid key; there is no plaintext fallback.
	EncryptionKey string `mapstructure:"encryption_key"`
	KeyVersion    int    `mapstructure:"key_version"`
}

// Trigger holds the inbound trigger endpoint settings.
type Trigger struct {
	// VerifySecret gates webhook_secret checking on inbound triggers.
	VerifySecret    bool   `mapstructure:"verify_secret"`
	Secret          string `mapstructure:"secret"`
	Workers         int    `mapstructure:"workers"`
	DispatchTimeout int    `mapstructure:"dispatch_timeout"` // seconds, per tenant
}

// Exchange holds the configuration for the exchange REST API.
type Exchange struct {
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Webhook holds the outbound orchestrator notification settings.
type Webhook struct {
	OrchestratorURL string `mapstructure:"orchestrator_url"`
	HMACSecret      string `mapstructure:"hmac_secret"`
	MaxRetries      int    `mapstructure:"max_retries"`
	BackoffBaseMs   int    `mapstructure:"backoff_base_ms"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	DefaultExchange string `mapstructure:"default_exchange"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("vault.key_version", 1)
	viper.SetDefault("trigger.verify_secret", false)
	viper.SetDefault("trigger.workers", 8)
	viper.SetDefault("trigger.dispatch_timeout", 10)
	viper.SetDefault("exchange.rate_limit", 20)      // requests per second
	viper.SetDefault("exchange.rate_limit_burst", 5) // burst size
	viper.SetDefault("webhook.max_retries", 3)
	viper.SetDefault("webhook.backoff_base_ms", 500)
	viper.SetDefault("webhook.timeout_seconds", 5)
	viper.SetDefault("webhook.default_exchange", "BINANCE")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.dsn", "trigger-vault.db")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
