package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SMTPSender is one mailbox the digest mailer may send from.
type SMTPSender struct {
	Address  string
	Password string
}

type Config struct {
	Port string
	Env  string

	MongoURI          string
	MongoDB           string
	MongoTransactions bool
	PostgresConnStr   string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	AMQPURL           string

	JWTSecret               string
	InternalAPIKey          string
	FirebaseCredentialsPath string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	SMTPHost       string
	SMTPPort       int
	SMTPSenders    []SMTPSender
	SMTPDailyQuota int
	DigestSchedule string
	DigestWindow   time.Duration
	AppURL         string

	PostCooldown    time.Duration
	CommentCooldown time.Duration
	RateLimitRPS    float64

	OutboxPollInterval time.Duration
	OutboxMaxAttempts  int
}

// Load reads the configuration from the environment, loading a .env file first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		MongoURI:          getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:           getEnv("MONGO_DB", "sraws"),
		MongoTransactions: getEnvBool("MONGO_TRANSACTIONS", false),
		PostgresConnStr:   getEnv("POSTGRES_CONN_STR", ""),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		AMQPURL:           getEnv("AMQP_URL", ""),

		JWTSecret:               getEnv("JWT_SECRET", "supersecretjwtkey"),
		InternalAPIKey:          getEnv("INTERNAL_API_KEY", ""),
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),

		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:support@sraws.com"),

		SMTPHost:       getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:       getEnvInt("SMTP_PORT", 587),
		SMTPSenders:    ParseSenders(getEnv("SMTP_SENDERS", "")),
		SMTPDailyQuota: getEnvInt("SMTP_DAILY_QUOTA", 450),
		DigestSchedule: getEnv("DIGEST_SCHEDULE", "@every 10m"),
		DigestWindow:   getEnvDuration("DIGEST_WINDOW", 10*time.Minute),
		AppURL:         getEnv("APP_URL", "https://sraws.com"),

		PostCooldown:    getEnvDuration("POST_COOLDOWN", 30*time.Second),
		CommentCooldown: getEnvDuration("COMMENT_COOLDOWN", 10*time.Second),
		RateLimitRPS:    getEnvFloat("RATE_LIMIT_RPS", 20),

		OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
		OutboxMaxAttempts:  getEnvInt("OUTBOX_MAX_ATTEMPTS", 8),
	}
}

// Validate reports configuration that makes the server unable to start.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI environment variable not set")
	}
	if c.PostgresConnStr == "" {
		return fmt.Errorf("POSTGRES_CONN_STR environment variable not set")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR environment variable not set")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ParseSenders parses "addr:password,addr:password". Order is preserved; it is the rotation order.
func ParseSenders(raw string) []SMTPSender {
	var senders []SMTPSender
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, password, _ := strings.Cut(part, ":")
		senders = append(senders, SMTPSender{Address: addr, Password: password})
	}
	return senders
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
