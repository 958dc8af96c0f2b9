package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notifq/notifq/app/notifier"
)

type receiveResult struct {
	msgs []Message
	err  error
}

type extendCall struct {
	receipt string
	delay   time.Duration
}

type enqueueCall struct {
	content    string
	channelTag string
}

// fakeQueue scripts successive Receive results; once exhausted it blocks
// until the context is cancelled, like a long poll with nothing to return.
type fakeQueue struct {
	mu        sync.Mutex
	receives  []receiveResult
	acks      []string
	ackErr    error
	extends   []extendCall
	extendErr error
	enqueues  []enqueueCall
	enqErr    error
}

func (f *fakeQueue) Enqueue(_ context.Context, content []byte, channelTag string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqErr != nil {
		return "", f.enqErr
	}
	f.enqueues = append(f.enqueues, enqueueCall{content: string(content), channelTag: channelTag})
	return fmt.Sprintf("id-%d", len(f.enqueues)), nil
}

func (f *fakeQueue) Receive(ctx context.Context, _ int, _ time.Duration) ([]Message, error) {
	f.mu.Lock()
	if len(f.receives) > 0 {
		next := f.receives[0]
		f.receives = f.receives[1:]
		f.mu.Unlock()
		return next.msgs, next.err
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeQueue) Acknowledge(_ context.Context, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acks = append(f.acks, receiptHandle)
	return nil
}

func (f *fakeQueue) ExtendVisibility(_ context.Context, receiptHandle string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.extendErr != nil {
		return f.extendErr
	}
	f.extends = append(f.extends, extendCall{receipt: receiptHandle, delay: delay})
	return nil
}

func (f *fakeQueue) Metadata(_ context.Context) (Metadata, error) {
	return Metadata{}, nil
}

func (f *fakeQueue) snapshot() (acks []string, extends []extendCall, enqueues []enqueueCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acks...),
		append([]extendCall(nil), f.extends...),
		append([]enqueueCall(nil), f.enqueues...)
}

type attemptCall struct {
	destination string
	body        string
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls []attemptCall
}

func (f *fakeNotifier) Attempt(_ context.Context, destination string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, attemptCall{destination: destination, body: body})
	return f.err
}

func (f *fakeNotifier) attempts() []attemptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]attemptCall(nil), f.calls...)
}

func validMessage(id, receipt string, deliveries int) Message {
	return Message{
		ID:            id,
		ReceiptHandle: receipt,
		Content:       []byte(`{"email":"a@example.com","msg":"hi"}`),
		DeliveryCount: deliveries,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testOptions() ConsumerOptions {
	return ConsumerOptions{
		BatchSize:     10,
		WaitTime:      time.Millisecond,
		RetryDelay:    30 * time.Second,
		ErrorBackoff:  time.Millisecond,
		MaxDeliveries: 5,
	}
}

// startConsumer runs the loop in the background and returns a stop function
// that cancels it and waits for Run to return.
func startConsumer(t *testing.T, c *Consumer) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop after cancellation")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConsumerAcknowledgesOnSuccess(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{receives: []receiveResult{
		{msgs: []Message{validMessage("m1", "r1", 1)}},
	}}
	n := &fakeNotifier{}
	c := NewConsumer(q, nil, n, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "acknowledge", func() bool {
		acks, _, _ := q.snapshot()
		return len(acks) == 1
	})
	stop()

	acks, extends, _ := q.snapshot()
	if len(acks) != 1 || acks[0] != "r1" {
		t.Fatalf("expected single ack for r1, got %v", acks)
	}
	if len(extends) != 0 {
		t.Fatalf("expected no visibility extensions, got %v", extends)
	}
	if got := n.attempts(); len(got) != 1 || got[0].destination != "a@example.com" || got[0].body != "hi" {
		t.Fatalf("unexpected notifier calls: %v", got)
	}
	if c.Processed() != 1 {
		t.Fatalf("expected 1 processed, got %d", c.Processed())
	}
}

func TestConsumerDelaysOnTransientFailure(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{receives: []receiveResult{
		{msgs: []Message{validMessage("m1", "r1", 1)}},
	}}
	n := &fakeNotifier{err: errors.New("relay timed out")}
	c := NewConsumer(q, nil, n, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "visibility extension", func() bool {
		_, extends, _ := q.snapshot()
		return len(extends) == 1
	})
	stop()

	acks, extends, _ := q.snapshot()
	if len(acks) != 0 {
		t.Fatalf("expected no acks, got %v", acks)
	}
	if extends[0].receipt != "r1" || extends[0].delay != 30*time.Second {
		t.Fatalf("expected 30s extension for r1, got %+v", extends[0])
	}
	if c.Processed() != 0 {
		t.Fatalf("expected 0 processed, got %d", c.Processed())
	}
}

func TestConsumerSurvivesReceiveFailure(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{receives: []receiveResult{
		{err: errors.New("queue service unavailable")},
		{msgs: []Message{validMessage("m1", "r1", 1)}},
	}}
	n := &fakeNotifier{}
	c := NewConsumer(q, nil, n, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "ack after receive failure", func() bool {
		acks, _, _ := q.snapshot()
		return len(acks) == 1
	})
	stop()
}

func TestConsumerTreatsInvalidReceiptAsBenign(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{
		receives: []receiveResult{
			{msgs: []Message{validMessage("m1", "r1", 1)}},
		},
		ackErr: fmt.Errorf("delete message: %w", ErrInvalidReceipt),
	}
	n := &fakeNotifier{}
	c := NewConsumer(q, nil, n, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "notifier attempt", func() bool {
		return len(n.attempts()) == 1
	})
	stop()

	// The stale receipt is logged and ignored; delivery still counts.
	if c.Processed() != 1 {
		t.Fatalf("expected 1 processed, got %d", c.Processed())
	}
}

func TestConsumerDeadLettersPoisonMessage(t *testing.T) {
	t.Parallel()

	poison := Message{ID: "m1", ReceiptHandle: "r1", Content: []byte("not json"), DeliveryCount: 1}
	q := &fakeQueue{receives: []receiveResult{{msgs: []Message{poison}}}}
	dead := &fakeQueue{}
	n := &fakeNotifier{}
	c := NewConsumer(q, dead, n, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "dead-letter enqueue", func() bool {
		_, _, enqueues := dead.snapshot()
		return len(enqueues) == 1
	})
	stop()

	_, _, enqueues := dead.snapshot()
	if enqueues[0].content != "not json" {
		t.Fatalf("dead-letter content mismatch: %q", enqueues[0].content)
	}
	acks, extends, _ := q.snapshot()
	if len(acks) != 1 {
		t.Fatalf("expected poison message acknowledged after dead-letter, got acks %v", acks)
	}
	if len(extends) != 0 {
		t.Fatalf("poison message must not be retried, got %v", extends)
	}
	if len(n.attempts()) != 0 {
		t.Fatalf("notifier must not run for poison messages, got %v", n.attempts())
	}
}

func TestConsumerDeadLettersWhenDeliveryBudgetExhausted(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{receives: []receiveResult{
		{msgs: []Message{validMessage("m1", "r1", 6)}},
	}}
	dead := &fakeQueue{}
	n := &fakeNotifier{err: errors.New("still failing")}
	c := NewConsumer(q, dead, n, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "dead-letter enqueue", func() bool {
		_, _, enqueues := dead.snapshot()
		return len(enqueues) == 1
	})
	stop()

	if len(n.attempts()) != 0 {
		t.Fatalf("notifier must not run past the delivery budget, got %v", n.attempts())
	}
	acks, _, _ := q.snapshot()
	if len(acks) != 1 {
		t.Fatalf("expected message acknowledged after dead-letter, got %v", acks)
	}
}

func TestConsumerDropsPoisonWithoutDeadLetterQueue(t *testing.T) {
	t.Parallel()

	poison := Message{ID: "m1", ReceiptHandle: "r1", Content: []byte("{}"), DeliveryCount: 1}
	q := &fakeQueue{receives: []receiveResult{{msgs: []Message{poison}}}}
	c := NewConsumer(q, nil, &fakeNotifier{}, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "drop acknowledge", func() bool {
		acks, _, _ := q.snapshot()
		return len(acks) == 1
	})
	stop()

	_, extends, _ := q.snapshot()
	if len(extends) != 0 {
		t.Fatalf("dropped poison must not be extended, got %v", extends)
	}
}

func TestConsumerDeadLettersPermanentFailure(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{receives: []receiveResult{
		{msgs: []Message{validMessage("m1", "r1", 1)}},
	}}
	dead := &fakeQueue{}
	n := &fakeNotifier{err: &notifier.DeliveryError{Kind: notifier.Permanent, Err: errors.New("mailbox does not exist")}}
	c := NewConsumer(q, dead, n, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "dead-letter enqueue", func() bool {
		_, _, enqueues := dead.snapshot()
		return len(enqueues) == 1
	})
	stop()

	acks, extends, _ := q.snapshot()
	if len(acks) != 1 {
		t.Fatalf("expected ack after dead-letter, got %v", acks)
	}
	if len(extends) != 0 {
		t.Fatalf("permanent failures must not be retried, got %v", extends)
	}
}

func TestConsumerDelaysWhenDeadLetterEnqueueFails(t *testing.T) {
	t.Parallel()

	poison := Message{ID: "m1", ReceiptHandle: "r1", Content: []byte("broken"), DeliveryCount: 1}
	q := &fakeQueue{receives: []receiveResult{{msgs: []Message{poison}}}}
	dead := &fakeQueue{enqErr: errors.New("dead-letter queue unavailable")}
	c := NewConsumer(q, dead, &fakeNotifier{}, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "visibility extension", func() bool {
		_, extends, _ := q.snapshot()
		return len(extends) == 1
	})
	stop()

	acks, _, _ := q.snapshot()
	if len(acks) != 0 {
		t.Fatalf("message must stay on the queue when dead-letter fails, got acks %v", acks)
	}
}

func TestConsumerProcessesBatchConcurrently(t *testing.T) {
	t.Parallel()

	batch := make([]Message, 0, 10)
	for i := 0; i < 10; i++ {
		batch = append(batch, validMessage(fmt.Sprintf("m%d", i), fmt.Sprintf("r%d", i), 1))
	}
	q := &fakeQueue{receives: []receiveResult{{msgs: batch}}}
	n := &fakeNotifier{}
	c := NewConsumer(q, nil, n, "c1", quietLogger(), testOptions())

	stop := startConsumer(t, c)
	waitFor(t, "all acks", func() bool {
		acks, _, _ := q.snapshot()
		return len(acks) == 10
	})
	stop()

	if c.Processed() != 10 {
		t.Fatalf("expected 10 processed, got %d", c.Processed())
	}
}

func TestConsumerStopsOnCancellation(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	c := NewConsumer(q, nil, &fakeNotifier{}, "c1", quietLogger(), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
}
