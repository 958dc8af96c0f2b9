package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/notifq/notifq/app/queue"
	"github.com/notifq/notifq/config"
)

var consumeCmd = &cobra.Command{
	Use:   "consume [consumer_name]",
	Short: "Start the queue consumer worker",
	Long:  "Start a worker that long-polls the queue and delivers each message by email, acknowledging on success and delaying redelivery on failure.",
	Args:  cobra.ExactArgs(1),
	Run:   runConsume,
}

// init registers the consume command.
func init() {
	rootCmd.AddCommand(consumeCmd)
}

// runConsume starts the consumer worker.
func runConsume(_ *cobra.Command, args []string) {
	consumerName := args[0]

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := buildLogger(cfg)

	client, deadLetter, closeQueues, err := buildQueues(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to build queue client")
	}
	defer closeQueues()

	emailNotifier, err := buildNotifier(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to build notifier")
	}

	consumer := queue.NewConsumer(client, deadLetter, emailNotifier, consumerName, log, queue.ConsumerOptions{
		BatchSize:      cfg.ConsumerBatchSize,
		WaitTime:       time.Duration(cfg.ConsumerWaitSeconds) * time.Second,
		RetryDelay:     time.Duration(cfg.ConsumerRetryDelaySecs) * time.Second,
		ErrorBackoff:   time.Duration(cfg.ConsumerErrorBackoff) * time.Second,
		Pause:          time.Duration(cfg.ConsumerPauseSeconds) * time.Second,
		MaxDeliveries:  cfg.ConsumerMaxDeliveries,
		AttemptTimeout: time.Duration(cfg.ConsumerAttemptTimeout) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Received shutdown signal, stopping consumer...")
		cancel()
	}()

	if err := consumer.Run(ctx); err != nil {
		log.WithError(err).Fatal("Consumer error")
	}

	log.Info("Consumer stopped")
}
