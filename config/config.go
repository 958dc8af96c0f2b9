package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPHost string
	HTTPPort string

	LogLevel string

	QueueBackend string

	SQSQueueURL      string
	SQSDeadLetterURL string
	AWSRegion        string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisQueueKey      string
	RedisDeadLetterKey string

	EmailProvider string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	EmailSubject string

	SESSourceEmail string

	ConsumerBatchSize      int
	ConsumerWaitSeconds    int
	ConsumerRetryDelaySecs int
	ConsumerErrorBackoff   int
	ConsumerPauseSeconds   int
	ConsumerMaxDeliveries  int
	ConsumerAttemptTimeout int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPHost: getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		QueueBackend: getEnv("QUEUE_BACKEND", "sqs"),

		SQSQueueURL:      getEnv("SQS_QUEUE_URL", ""),
		SQSDeadLetterURL: getEnv("SQS_DEAD_LETTER_URL", ""),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),

		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisQueueKey:      getEnv("REDIS_QUEUE_KEY", "notifq:messages"),
		RedisDeadLetterKey: getEnv("REDIS_DEAD_LETTER_KEY", "notifq:dead-letter"),

		EmailProvider: getEnv("EMAIL_PROVIDER", "smtp"),

		SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		EmailSubject: getEnv("EMAIL_SUBJECT", "You have a new message"),

		SESSourceEmail: getEnv("SES_SOURCE_EMAIL", ""),

		ConsumerBatchSize:      getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerWaitSeconds:    getEnvInt("CONSUMER_WAIT_SECONDS", 30),
		ConsumerRetryDelaySecs: getEnvInt("CONSUMER_RETRY_DELAY_SECONDS", 30),
		ConsumerErrorBackoff:   getEnvInt("CONSUMER_ERROR_BACKOFF_SECONDS", 5),
		ConsumerPauseSeconds:   getEnvInt("CONSUMER_PAUSE_SECONDS", 2),
		ConsumerMaxDeliveries:  getEnvInt("CONSUMER_MAX_DELIVERIES", 5),
		ConsumerAttemptTimeout: getEnvInt("CONSUMER_ATTEMPT_TIMEOUT_SECONDS", 30),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
