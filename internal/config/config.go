package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Policy holds the business rules that are passed into services at
// construction time. Settled records never read these again.
type Policy struct {
	PlatformSourceCommission decimal.Decimal
	TeacherSourceCommission  decimal.Decimal
	MinimumPayout            decimal.Decimal
	MaxPaymentRetries        int
	GracePeriodDays          int
	LateFee                  decimal.Decimal
	MaxMissedInstallments    int
	RevenueHoldDays          int
	DefaultCurrency          string
}

type Config struct {
	Env  string
	Port string
	// Public base URL, used for gateway finish callbacks
	AppURL string

	DatabaseURL string
	RedisURL    string

	KafkaBrokers string
	KafkaTopic   string

	FirebaseCredentialsPath string

	GatewayProvider      string
	MidtransServerKey    string
	MidtransIrisKey      string
	MidtransIsProduction bool
	RazorpayKeyID        string
	RazorpayKeySecret    string
	GatewaySigningSecret string
	GatewayWebhookSecret string

	EnrollmentServiceURL string

	SMTP SMTPConfig

	Policy Policy
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Load reads .env (if any) and the process environment.
func Load() *Config {
	envLocations := []string{".env", "config/.env"}
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			break
		}
	}

	return &Config{
		Env:    getEnvWithDefault("ENV", "development"),
		Port:   getEnvWithDefault("PORT", "8080"),
		AppURL: getEnvWithDefault("APP_URL", "http://localhost:8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:   getEnvWithDefault("KAFKA_TOPIC", "lms.payments"),

		FirebaseCredentialsPath: getEnvWithDefault("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json"),

		GatewayProvider:      getEnvWithDefault("GATEWAY_PROVIDER", "midtrans"),
		MidtransServerKey:    os.Getenv("MIDTRANS_SERVER_KEY"),
		MidtransIrisKey:      os.Getenv("MIDTRANS_IRIS_KEY"),
		MidtransIsProduction: os.Getenv("MIDTRANS_IS_PRODUCTION") == "true",
		RazorpayKeyID:        os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:    os.Getenv("RAZORPAY_KEY_SECRET"),
		GatewaySigningSecret: os.Getenv("GATEWAY_SIGNING_SECRET"),
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),

		EnrollmentServiceURL: os.Getenv("ENROLLMENT_SERVICE_URL"),

		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getInt("SMTP_PORT", 587),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     os.Getenv("EMAIL_FROM"),
		},

		Policy: LoadPolicy(),
	}
}

// LoadPolicy reads only the policy section.
func LoadPolicy() Policy {
	return Policy{
		PlatformSourceCommission: getDecimal("COMMISSION_RATE_PLATFORM_SOURCE", "0.4"),
		TeacherSourceCommission:  getDecimal("COMMISSION_RATE_TEACHER_SOURCE", "0.6"),
		MinimumPayout:            getDecimal("MIN_PAYOUT_AMOUNT", "1000"),
		MaxPaymentRetries:        getInt("MAX_PAYMENT_RETRIES", 3),
		GracePeriodDays:          getInt("INSTALLMENT_GRACE_PERIOD_DAYS", 3),
		LateFee:                  getDecimal("INSTALLMENT_LATE_FEE", "100.00"),
		MaxMissedInstallments:    getInt("MAX_MISSED_INSTALLMENTS", 3),
		RevenueHoldDays:          getInt("REVENUE_HOLD_DAYS", 7),
		DefaultCurrency:          getEnvWithDefault("DEFAULT_CURRENCY", "INR"),
	}
}

// DefaultPolicy is the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		PlatformSourceCommission: decimal.RequireFromString("0.4"),
		TeacherSourceCommission:  decimal.RequireFromString("0.6"),
		MinimumPayout:            decimal.NewFromInt(1000),
		MaxPaymentRetries:        3,
		GracePeriodDays:          3,
		LateFee:                  decimal.RequireFromString("100.00"),
		MaxMissedInstallments:    3,
		RevenueHoldDays:          7,
		DefaultCurrency:          "INR",
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getDecimal(key, defaultValue string) decimal.Decimal {
	if d, err := decimal.NewFromString(os.Getenv(key)); err == nil {
		return d
	}
	return decimal.RequireFromString(defaultValue)
}
