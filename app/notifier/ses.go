package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESNotifier delivers mail via AWS SES.
type SESNotifier struct {
	client  *sesv2.Client
	source  string
	subject string
}

// NewSESNotifier builds a notifier that sends email via AWS SES.
func NewSESNotifier(cfg aws.Config, source string, subject string) *SESNotifier {
	return &SESNotifier{
		client:  sesv2.NewFromConfig(cfg),
		source:  source,
		subject: subject,
	}
}

// Attempt sends one email to destination via SES.
func (n *SESNotifier) Attempt(ctx context.Context, destination string, body string) error {
	raw, err := buildMIME(n.source, destination, n.subject, body)
	if err != nil {
		return permanent(err)
	}

	_, err = n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.source),
		Destination: &types.Destination{
			ToAddresses: []string{destination},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return classifySES(fmt.Errorf("ses send email: %w", err))
	}

	return nil
}

// classifySES maps SES API errors to a delivery failure kind. Rejections
// and account-level refusals cannot succeed on retry.
func classifySES(err error) error {
	var rejected *types.MessageRejected
	var unverified *types.MailFromDomainNotVerifiedException
	var suspended *types.AccountSuspendedException
	if errors.As(err, &rejected) || errors.As(err, &unverified) || errors.As(err, &suspended) {
		return permanent(err)
	}
	return transient(err)
}
