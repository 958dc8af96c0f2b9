package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notifq/notifq/app/notifier"
)

// ConsumerOptions tune the consumer loop. Zero values take the defaults
// below.
type ConsumerOptions struct {
	// BatchSize bounds how many messages one Receive may return.
	BatchSize int
	// WaitTime is the long-poll duration for Receive.
	WaitTime time.Duration
	// RetryDelay is how long a transiently failed message stays hidden
	// before redelivery.
	RetryDelay time.Duration
	// ErrorBackoff is the sleep after a failed Receive.
	ErrorBackoff time.Duration
	// Pause is the sleep after an iteration that processed messages.
	Pause time.Duration
	// MaxDeliveries caps redeliveries before a message is dead-lettered.
	// Zero disables the guard.
	MaxDeliveries int
	// AttemptTimeout bounds one message's processing, including the
	// notifier call and the follow-up queue call.
	AttemptTimeout time.Duration
}

func (o *ConsumerOptions) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.WaitTime <= 0 {
		o.WaitTime = 30 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 30 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
}

// Consumer drives the delivery loop: long-poll the queue, push each message
// through the notifier, then acknowledge or schedule a delayed reappearance.
// Several consumers may run against the same queue; the receipt handle is
// the only coordination between them.
type Consumer struct {
	client     Client
	deadLetter Client
	notifier   notifier.Notifier
	opts       ConsumerOptions
	log        *logrus.Entry

	processed atomic.Uint64
}

// NewConsumer constructs a consumer. deadLetter may be nil, in which case
// unprocessable messages are dropped with an error log instead of being
// re-enqueued elsewhere.
func NewConsumer(client Client, deadLetter Client, n notifier.Notifier, name string, logger *logrus.Logger, opts ConsumerOptions) *Consumer {
	opts.withDefaults()
	return &Consumer{
		client:     client,
		deadLetter: deadLetter,
		notifier:   n,
		opts:       opts,
		log:        logger.WithField("consumer", name),
	}
}

// Processed returns the number of successfully delivered messages.
func (c *Consumer) Processed() uint64 {
	return c.processed.Load()
}

// Run blocks until ctx is cancelled. Infrastructure failures are retried
// with a fixed backoff and never terminate the loop. The batch in flight is
// always drained before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.WithFields(logrus.Fields{
		"batch_size": c.opts.BatchSize,
		"wait":       c.opts.WaitTime.String(),
	}).Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.log.WithField("processed", c.Processed()).Info("consumer stopped")
			return nil
		default:
		}

		messages, err := c.client.Receive(ctx, c.opts.BatchSize, c.opts.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				c.log.WithField("processed", c.Processed()).Info("consumer stopped")
				return nil
			}
			c.log.WithError(err).Error("receive failed, backing off")
			sleep(ctx, c.opts.ErrorBackoff)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		c.log.WithField("count", len(messages)).Debug("batch received")

		// Messages are independent: each carries its own receipt handle.
		// The batch context survives cancellation so in-flight attempts
		// finish before shutdown.
		batchCtx := context.WithoutCancel(ctx)
		var wg sync.WaitGroup
		for _, msg := range messages {
			wg.Add(1)
			go func(m Message) {
				defer wg.Done()
				c.process(batchCtx, m)
			}(msg)
		}
		wg.Wait()

		sleep(ctx, c.opts.Pause)
	}
}

// process handles one received message through to its outcome.
func (c *Consumer) process(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()

	entry := c.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"deliveries": msg.DeliveryCount,
	})
	if msg.ChannelTag != "" {
		entry = entry.WithField("channel", msg.ChannelTag)
	}

	payload, err := DecodePayload(msg.Content)
	if err != nil {
		entry.WithError(err).Error("poison message")
		c.quarantine(ctx, entry, msg)
		return
	}

	if c.opts.MaxDeliveries > 0 && msg.DeliveryCount > c.opts.MaxDeliveries {
		entry.Warn("delivery budget exhausted")
		c.quarantine(ctx, entry, msg)
		return
	}

	entry = entry.WithField("destination", payload.Destination)

	err = c.notifier.Attempt(ctx, payload.Destination, payload.Body)
	switch {
	case err == nil:
		c.acknowledge(ctx, entry, msg)
		entry.WithField("processed", c.processed.Add(1)).Info("message delivered")
	case notifier.IsPermanent(err):
		entry.WithError(err).Error("permanent delivery failure")
		c.quarantine(ctx, entry, msg)
	default:
		entry.WithError(err).Warn("delivery failed, delaying redelivery")
		c.delay(ctx, entry, msg)
	}
}

// acknowledge removes the delivery. A stale receipt means another consumer
// claimed the message or the window expired; the notification already went
// out, so the race is benign.
func (c *Consumer) acknowledge(ctx context.Context, entry *logrus.Entry, msg Message) {
	err := c.client.Acknowledge(ctx, msg.ReceiptHandle)
	if err == nil {
		return
	}
	if errors.Is(err, ErrInvalidReceipt) {
		entry.WithError(err).Warn("acknowledge raced with another consumer")
		return
	}
	entry.WithError(err).Error("acknowledge failed")
}

// delay hides the message for the retry delay so it reappears later.
func (c *Consumer) delay(ctx context.Context, entry *logrus.Entry, msg Message) {
	err := c.client.ExtendVisibility(ctx, msg.ReceiptHandle, c.opts.RetryDelay)
	if err == nil {
		return
	}
	if errors.Is(err, ErrInvalidReceipt) {
		entry.WithError(err).Warn("extend visibility raced with another consumer")
		return
	}
	entry.WithError(err).Error("extend visibility failed")
}

// quarantine routes a message that must not be retried to the dead-letter
// queue, then acknowledges the original. Without a dead-letter queue the
// message is dropped; retrying it forever helps nobody. If the dead-letter
// enqueue fails the message is delayed instead and the guard re-fires on
// redelivery.
func (c *Consumer) quarantine(ctx context.Context, entry *logrus.Entry, msg Message) {
	if c.deadLetter == nil {
		entry.Error("no dead-letter queue configured, dropping message")
		c.acknowledge(ctx, entry, msg)
		return
	}

	if _, err := c.deadLetter.Enqueue(ctx, msg.Content, msg.ChannelTag); err != nil {
		entry.WithError(err).Error("dead-letter enqueue failed, delaying redelivery")
		c.delay(ctx, entry, msg)
		return
	}

	entry.Info("message moved to dead-letter queue")
	c.acknowledge(ctx, entry, msg)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
