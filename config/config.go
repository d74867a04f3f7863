package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Underlying processors PayFlexi can route a checkout session to.
var allowedProcessors = map[string]bool{
	"stripe":   true,
	"paystack": true,
	"payflexi": true,
}

type Config struct {
	Port string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	// PayFlexi merchant credentials. Test mode selects which pair is used
	// for API auth and webhook signature verification.
	PayFlexiAPIBaseURL string
	LivePublicAPIKey   string
	LiveSecretAPIKey   string
	TestPublicAPIKey   string
	TestSecretAPIKey   string
	TestMode           bool

	// Merchant settings mirrored from the PayFlexi dashboard.
	EnabledPaymentGateway string // stripe | paystack | payflexi
	DisablePaymentPlans   bool
	PaymentInstructions   string

	// Host-facing URLs the entry points redirect buyers to.
	PublicBaseURL string
	CheckoutURL   string
	AccountURL    string

	EnrollmentServiceURL string

	KafkaBrokers string
	KafkaTopic   string
}

func LoadConfig() (*Config, error) {
	// Best effort; in containers the environment is injected directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8088"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),

		PayFlexiAPIBaseURL: getEnv("PAYFLEXI_API_BASE_URL", "https://api.payflexi.co"),
		LivePublicAPIKey:   os.Getenv("PAYFLEXI_LIVE_PUBLIC_API_KEY"),
		LiveSecretAPIKey:   os.Getenv("PAYFLEXI_LIVE_SECRET_API_KEY"),
		TestPublicAPIKey:   os.Getenv("PAYFLEXI_TEST_PUBLIC_API_KEY"),
		TestSecretAPIKey:   os.Getenv("PAYFLEXI_TEST_SECRET_API_KEY"),
		TestMode:           boolEnv("PAYFLEXI_TEST_MODE"),

		EnabledPaymentGateway: getEnv("PAYFLEXI_ENABLED_GATEWAY", "stripe"),
		DisablePaymentPlans:   boolEnv("PAYFLEXI_DISABLE_PAYMENT_PLANS"),
		PaymentInstructions:   getEnv("PAYFLEXI_PAYMENT_INSTRUCTIONS", "You would automatically be enrolled to the course once your payment is completed"),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8088"),
		CheckoutURL:   getEnv("CHECKOUT_URL", "http://localhost:3000/checkout"),
		AccountURL:    getEnv("ACCOUNT_URL", "http://localhost:3000/account"),

		EnrollmentServiceURL: getEnv("ENROLLMENT_SERVICE_URL", "http://enrollment-service:8082"),

		KafkaBrokers: getEnv("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "payment-events"),
	}

	if cfg.PostgresUser == "" || cfg.PostgresPassword == "" || cfg.PostgresDB == "" {
		return nil, fmt.Errorf("missing required postgres environment variables")
	}
	if cfg.SecretKey() == "" {
		mode := "live"
		if cfg.TestMode {
			mode = "test"
		}
		return nil, fmt.Errorf("missing payflexi %s secret api key", mode)
	}
	if !allowedProcessors[cfg.EnabledPaymentGateway] {
		return nil, fmt.Errorf("unsupported payment gateway %q", cfg.EnabledPaymentGateway)
	}

	return cfg, nil
}

// SecretKey returns the secret API key for the active mode. The same key
// signs webhooks and authorizes outbound API calls.
func (c *Config) SecretKey() string {
	if c.TestMode {
		return strings.TrimSpace(c.TestSecretAPIKey)
	}
	return strings.TrimSpace(c.LiveSecretAPIKey)
}

// PublicKey returns the public API key for the active mode.
func (c *Config) PublicKey() string {
	if c.TestMode {
		return strings.TrimSpace(c.TestPublicAPIKey)
	}
	return strings.TrimSpace(c.LivePublicAPIKey)
}

// WebhookURL is the endpoint merchants register on the PayFlexi dashboard.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/llms-payflexi/events"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
