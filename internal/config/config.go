package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                    string
	LogLevel               string
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	DBMaxConns             int
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ReceiptCacheTTLSeconds int
	AuthSecret             string
	ManagerPIN             string
	CommitTimeoutMS        int
	CheckoutMaxAttempts    int
	PINAttemptsPerMinute   int
}

// Load reads configuration from the environment, falling back to an
// optional .env file in the working directory. Secrets have no defaults.
func Load() Config {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	return Config{
		Env:                    getString(v, "APP_ENV", "development"),
		LogLevel:               getString(v, "LOG_LEVEL", "info"),
		Port:                   getString(v, "PORT", "8080"),
		AllowedOrigin:          getString(v, "ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            getString(v, "DATABASE_URL", ""),
		DBMaxConns:             getPositiveInt(v, "DB_MAX_CONNS", 25),
		RedisAddr:              getString(v, "REDIS_ADDR", ""),
		RedisPassword:          getString(v, "REDIS_PASSWORD", ""),
		RedisDB:                getInt(v, "REDIS_DB", 0),
		ReceiptCacheTTLSeconds: getPositiveInt(v, "RECEIPT_CACHE_TTL_SECONDS", 600),
		AuthSecret:             strings.TrimSpace(getString(v, "AUTH_SECRET", "")),
		ManagerPIN:             strings.TrimSpace(getString(v, "MANAGER_PIN", "")),
		CommitTimeoutMS:        getPositiveInt(v, "COMMIT_TIMEOUT_MS", 3000),
		CheckoutMaxAttempts:    getPositiveInt(v, "CHECKOUT_MAX_ATTEMPTS", 3),
		PINAttemptsPerMinute:   getPositiveInt(v, "PIN_ATTEMPTS_PER_MINUTE", 8),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CommitTimeout() time.Duration {
	return time.Duration(c.CommitTimeoutMS) * time.Millisecond
}

func (c Config) ReceiptCacheTTL() time.Duration {
	return time.Duration(c.ReceiptCacheTTLSeconds) * time.Second
}

func getString(v *viper.Viper, key string, fallback string) string {
	if v.IsSet(key) {
		if val := v.GetString(key); val != "" {
			return val
		}
	}
	return fallback
}

func getInt(v *viper.Viper, key string, fallback int) int {
	if !v.IsSet(key) {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return fallback
	}
	return n
}

func getPositiveInt(v *viper.Viper, key string, fallback int) int {
	n := getInt(v, key, fallback)
	if n < 1 {
		return fallback
	}
	return n
}
