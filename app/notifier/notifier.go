package notifier

import (
	"context"
	"errors"
	"fmt"
)

// Notifier attempts delivery of one message body to one destination.
// Exactly one external transmission happens per invocation; retry policy
// belongs to the caller, never to the Notifier.
type Notifier interface {
	Attempt(ctx context.Context, destination string, body string) error
}

type FailureKind int

const (
	// Transient failures (network, timeout, throttling) are worth retrying.
	Transient FailureKind = iota
	// Permanent failures (rejected or malformed destination) are not.
	Permanent
)

// DeliveryError is a classified delivery failure. Errors that carry no
// classification are treated as transient by callers.
type DeliveryError struct {
	Kind FailureKind
	Err  error
}

func (e *DeliveryError) Error() string {
	if e.Kind == Permanent {
		return fmt.Sprintf("permanent delivery failure: %v", e.Err)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is classified as a permanent failure.
func IsPermanent(err error) bool {
	var delivery *DeliveryError
	return errors.As(err, &delivery) && delivery.Kind == Permanent
}

func permanent(err error) error { return &DeliveryError{Kind: Permanent, Err: err} }
func transient(err error) error { return &DeliveryError{Kind: Transient, Err: err} }
