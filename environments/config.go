package environments

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Directory DirectoryConfig
	Phone     PhoneConfig
	Reconcile ReconcileConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// GatewayConfig configures the SMS provider (Twilio Messages API).
// AuthToken is also the HMAC key for webhook signature verification.
type GatewayConfig struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DirectoryConfig configures the tenant identity directory service.
type DirectoryConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

type PhoneConfig struct {
	DefaultRegion string
}

type ReconcileConfig struct {
	Interval        time.Duration
	BatchSize       int
	StuckPendingAge time.Duration
	AlertWebhookURL string
	AlertThreshold  int
}

type AuthConfig struct {
	APIKey string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "smsconv"),
			Password: GetEnv("DB_PASSWORD", "smsconv123"),
			DBName:   GetEnv("DB_NAME", "sms_conversations"),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
		},
		Gateway: GatewayConfig{
			AccountSID:  GetEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:   GetEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber:  GetEnv("TWILIO_FROM_NUMBER", ""),
			BaseURL:     GetEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
			Timeout:     GetEnvAsDuration("TWILIO_TIMEOUT", 5*time.Second),
			MaxAttempts: GetEnvAsInt("TWILIO_SEND_MAX_ATTEMPTS", 3),
			BackoffBase: GetEnvAsDuration("TWILIO_SEND_BACKOFF_BASE", 100*time.Millisecond),
			BackoffCap:  GetEnvAsDuration("TWILIO_SEND_BACKOFF_CAP", 2*time.Second),
		},
		Directory: DirectoryConfig{
			BaseURL:     GetEnv("DIRECTORY_URL", ""),
			Timeout:     GetEnvAsDuration("DIRECTORY_TIMEOUT", 3*time.Second),
			MaxAttempts: GetEnvAsInt("DIRECTORY_MAX_ATTEMPTS", 4),
			BackoffBase: GetEnvAsDuration("DIRECTORY_BACKOFF_BASE", 100*time.Millisecond),
			BackoffCap:  GetEnvAsDuration("DIRECTORY_BACKOFF_CAP", 2*time.Second),
		},
		Phone: PhoneConfig{
			DefaultRegion: GetEnv("PHONE_DEFAULT_REGION", "US"),
		},
		Reconcile: ReconcileConfig{
			Interval:        GetEnvAsDuration("RECONCILE_INTERVAL", 5*time.Minute),
			BatchSize:       GetEnvAsInt("RECONCILE_BATCH_SIZE", 100),
			StuckPendingAge: GetEnvAsDuration("STUCK_PENDING_AGE", 15*time.Minute),
			AlertWebhookURL: GetEnv("ALERT_WEBHOOK_URL", ""),
			AlertThreshold:  GetEnvAsInt("ALERT_ITERATION_COUNT", 0),
		},
		Auth: AuthConfig{
			APIKey: GetEnv("API_KEY", ""),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
