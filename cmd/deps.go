package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/notifq/notifq/app/notifier"
	"github.com/notifq/notifq/app/queue"
	"github.com/notifq/notifq/config"
)

// redisVisibility is the visibility window the Redis backend applies to
// received messages. The managed backend controls this server-side.
const redisVisibility = 30 * time.Second

// buildLogger configures the process-wide structured logger.
func buildLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// buildQueues constructs the main and dead-letter queue clients for the
// configured backend. The dead-letter client may be nil. The returned
// closer releases backend connections.
func buildQueues(cfg *config.Config) (queue.Client, queue.Client, func(), error) {
	switch strings.ToLower(cfg.QueueBackend) {
	case "", "sqs":
		if cfg.SQSQueueURL == "" {
			return nil, nil, nil, fmt.Errorf("SQS_QUEUE_URL is required for the sqs backend")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, nil, err
		}

		main := queue.NewSQSQueue(awsCfg, cfg.SQSQueueURL)
		var dead queue.Client
		if cfg.SQSDeadLetterURL != "" {
			dead = queue.NewSQSQueue(awsCfg, cfg.SQSDeadLetterURL)
		}
		return main, dead, func() {}, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
		}

		main := queue.NewRedisQueue(rdb, cfg.RedisQueueKey, redisVisibility)
		dead := queue.NewRedisQueue(rdb, cfg.RedisDeadLetterKey, redisVisibility)
		return main, dead, func() { _ = rdb.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported QUEUE_BACKEND: %s", cfg.QueueBackend)
	}
}

// buildNotifier constructs the configured delivery transport.
func buildNotifier(cfg *config.Config) (notifier.Notifier, error) {
	switch strings.ToLower(cfg.EmailProvider) {
	case "", "smtp":
		if cfg.SMTPFrom == "" {
			return nil, fmt.Errorf("SMTP_FROM is required for the smtp provider")
		}
		return notifier.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, cfg.EmailSubject), nil
	case "ses":
		if cfg.SESSourceEmail == "" {
			return nil, fmt.Errorf("SES_SOURCE_EMAIL is required for the ses provider")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, err
		}
		return notifier.NewSESNotifier(awsCfg, cfg.SESSourceEmail, cfg.EmailSubject), nil
	case "noop":
		return notifier.NewNoopNotifier(), nil
	default:
		return nil, fmt.Errorf("unsupported EMAIL_PROVIDER: %s", cfg.EmailProvider)
	}
}
