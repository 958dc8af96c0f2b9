package queue

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

const channelAttributeName = "channel"

// sqsAPI is the subset of the SQS client used by the adapter.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue implements Client on top of an AWS SQS queue.
type SQSQueue struct {
	api      sqsAPI
	queueURL string
}

// NewSQSQueue builds a queue client for the given queue URL.
func NewSQSQueue(cfg aws.Config, queueURL string) *SQSQueue {
	return &SQSQueue{
		api:      sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

// Enqueue sends one message, carrying the channel tag as a message attribute.
func (q *SQSQueue) Enqueue(ctx context.Context, content []byte, channelTag string) (string, error) {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(content)),
	}
	if channelTag != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			channelAttributeName: {
				DataType:    aws.String("String"),
				StringValue: aws.String(channelTag),
			},
		}
	}

	out, err := q.api.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sqs send message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// Receive long-polls the queue for up to maxCount messages.
func (q *SQSQueue) Receive(ctx context.Context, maxCount int, wait time.Duration) ([]Message, error) {
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   int32(maxCount),
		WaitTimeSeconds:       int32(wait / time.Second),
		MessageAttributeNames: []string{channelAttributeName},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, raw := range out.Messages {
		msg := Message{
			ID:            aws.ToString(raw.MessageId),
			ReceiptHandle: aws.ToString(raw.ReceiptHandle),
			Content:       []byte(aws.ToString(raw.Body)),
			DeliveryCount: 1,
		}
		if attr, ok := raw.MessageAttributes[channelAttributeName]; ok {
			msg.ChannelTag = aws.ToString(attr.StringValue)
		}
		if count, ok := raw.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if parsed, err := strconv.Atoi(count); err == nil {
				msg.DeliveryCount = parsed
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Acknowledge deletes the delivery behind the receipt handle.
func (q *SQSQueue) Acknowledge(ctx context.Context, receiptHandle string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return mapReceiptError("sqs delete message", err)
	}
	return nil
}

// ExtendVisibility hides the delivery for delay seconds.
func (q *SQSQueue) ExtendVisibility(ctx context.Context, receiptHandle string, delay time.Duration) error {
	_, err := q.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(delay / time.Second),
	})
	if err != nil {
		return mapReceiptError("sqs change message visibility", err)
	}
	return nil
}

// Metadata reads queue attributes for the stats endpoint. SQS has no
// lifecycle state of its own, so a reachable queue reports ACTIVE.
func (q *SQSQueue) Metadata(ctx context.Context) (Metadata, error) {
	out, err := q.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameCreatedTimestamp,
		},
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("sqs get queue attributes: %w", err)
	}

	meta := Metadata{
		DisplayName:    path.Base(q.queueURL),
		LifecycleState: "ACTIVE",
	}
	if created, ok := out.Attributes[string(types.QueueAttributeNameCreatedTimestamp)]; ok {
		if epoch, err := strconv.ParseInt(created, 10, 64); err == nil {
			meta.CreatedAt = time.Unix(epoch, 0).UTC()
		}
	}
	return meta, nil
}

// mapReceiptError translates SQS stale-receipt errors to ErrInvalidReceipt
// so callers can treat the competing-consumer race uniformly.
func mapReceiptError(op string, err error) error {
	var invalidReceipt *types.ReceiptHandleIsInvalid
	var notInflight *types.MessageNotInflight
	if errors.As(err, &invalidReceipt) || errors.As(err, &notInflight) {
		return fmt.Errorf("%s: %w", op, ErrInvalidReceipt)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ReceiptHandleIsInvalid", "MessageNotInflight", "InvalidParameterValue":
			return fmt.Errorf("%s: %w", op, ErrInvalidReceipt)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
