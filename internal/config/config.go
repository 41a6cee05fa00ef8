package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DatabaseURL     string
	Port            string
	LogLevel        string
	TariffFile      string
	UnknownRateType string
	EstimateWorkers int
	Currency        string
	// WebhookRate is the sustained webhook deliveries per second accepted
	// from one source; 0 disables throttling.
	WebhookRate     float64
	WebhookBurst    int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	workers, err := strconv.Atoi(strings.TrimSpace(os.Getenv("ESTIMATE_WORKERS")))
	if err != nil || workers <= 0 {
		workers = 4
	}
	currency := strings.ToUpper(strings.TrimSpace(os.Getenv("CURRENCY")))
	if currency == "" {
		currency = "EUR"
	}
	webhookRate, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("WEBHOOK_RATE_LIMIT")), 64)
	if err != nil || webhookRate < 0 {
		webhookRate = 20
	}
	burst, err := strconv.Atoi(strings.TrimSpace(os.Getenv("WEBHOOK_BURST")))
	if err != nil || burst <= 0 {
		burst = 40
	}
	return Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		Port:            port,
		LogLevel:        os.Getenv("LOG_LEVEL"),
		TariffFile:      os.Getenv("TARIFF_FILE"),
		UnknownRateType: os.Getenv("UNKNOWN_RATE_TYPE"),
		EstimateWorkers: workers,
		Currency:        currency,
		WebhookRate:     webhookRate,
		WebhookBurst:    burst,
	}
}

// WebhookSecret returns the signing secret for a carrier source, read from
// <SOURCE>_WEBHOOK_SECRET. Non-alphanumeric characters map to underscores.
func WebhookSecret(source string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(source))
	if key == "" {
		return ""
	}
	return os.Getenv(key + "_WEBHOOK_SECRET")
}
