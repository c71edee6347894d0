package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	Port      string
	DBConn    string
	LogLevel  string
	JWTSecret string

	// PolicyFile points at a YAML scoring policy; empty means the default policy
	PolicyFile string

	FiatPerNative  decimal.Decimal
	NativeDecimals int32
	ChainNetwork   string

	RateFeedURL         string
	RateFeedPath        string
	RateRefreshSchedule string

	FundingWindowDays int

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DBConn:              getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=lending sslmode=disable"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:           getEnv("JWT_SECRET", "secret"),
		PolicyFile:          getEnv("POLICY_FILE", ""),
		ChainNetwork:        getEnv("CHAIN_NETWORK", "monad_testnet"),
		RateFeedURL:         getEnv("RATE_FEED_URL", ""),
		RateFeedPath:        getEnv("RATE_FEED_PATH", "//rate"),
		RateRefreshSchedule: getEnv("RATE_REFRESH_SCHEDULE", "@every 1h"),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            getEnv("SMTP_PORT", "587"),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		SenderEmail:         getEnv("SENDER_EMAIL", "noreply@p2p-lending.local"),
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	rate, err := decimal.NewFromString(getEnv("FIAT_PER_NATIVE_UNIT", "10000"))
	if err != nil || !rate.IsPositive() {
		return nil, fmt.Errorf("FIAT_PER_NATIVE_UNIT must be a positive number")
	}
	cfg.FiatPerNative = rate

	decimals, err := strconv.ParseInt(getEnv("NATIVE_DECIMALS", "18"), 10, 32)
	if err != nil || decimals < 0 {
		return nil, fmt.Errorf("NATIVE_DECIMALS must be a non-negative integer")
	}
	cfg.NativeDecimals = int32(decimals)

	days, err := strconv.Atoi(getEnv("FUNDING_WINDOW_DAYS", "30"))
	if err != nil || days <= 0 {
		return nil, fmt.Errorf("FUNDING_WINDOW_DAYS must be a positive integer")
	}
	cfg.FundingWindowDays = days

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
