package queue

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidReceipt reports that a receipt handle no longer identifies an
// in-flight delivery: its visibility window expired or the message was
// already acknowledged, possibly by a competing consumer.
var ErrInvalidReceipt = errors.New("receipt handle is no longer valid")

// Message is one item received from the queue. ReceiptHandle is only valid
// for the current visibility window.
type Message struct {
	ID            string
	ReceiptHandle string
	Content       []byte
	ChannelTag    string
	DeliveryCount int
}

// Metadata describes the queue itself, for the stats endpoint.
type Metadata struct {
	DisplayName    string
	LifecycleState string
	CreatedAt      time.Time
}

// Client abstracts the managed queue. Implementations must treat the
// receipt handle as the sole token for acknowledging or re-hiding a
// delivery; Acknowledge and ExtendVisibility return an error matching
// ErrInvalidReceipt when the handle has gone stale.
type Client interface {
	// Enqueue adds a message and returns the queue-assigned ID.
	// channelTag may be empty.
	Enqueue(ctx context.Context, content []byte, channelTag string) (string, error)

	// Receive long-polls for up to maxCount messages, blocking at most
	// wait. An empty slice means the full wait elapsed with nothing
	// available.
	Receive(ctx context.Context, maxCount int, wait time.Duration) ([]Message, error)

	// Acknowledge permanently removes the delivery behind the receipt.
	Acknowledge(ctx context.Context, receiptHandle string) error

	// ExtendVisibility hides the delivery for delay, after which it
	// reappears as newly available.
	ExtendVisibility(ctx context.Context, receiptHandle string, delay time.Duration) error

	// Metadata returns queue-level information.
	Metadata(ctx context.Context) (Metadata, error)
}
