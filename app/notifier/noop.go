package notifier

import "context"

// NoopNotifier pretends to deliver. Useful for dry runs and local setups
// without a mail relay.
type NoopNotifier struct{}

// NewNoopNotifier constructs a no-op notifier.
func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{}
}

// Attempt returns nil without sending.
func (n *NoopNotifier) Attempt(_ context.Context, _ string, _ string) error {
	return nil
}
