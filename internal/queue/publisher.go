// Package queue carries domain events between the product API, the ops
// surface and the reminder trigger over SQS.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"medtrack/internal/types"
)

// AttrEventType is the SQS message attribute carrying the event type.
const AttrEventType = "event_type"

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var validate = validator.New()

// EventPublisher sends DomainEvents to the domain event queue.
type EventPublisher struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   types.Logger
}

// NewEventPublisher creates an EventPublisher targeting queueURL.
func NewEventPublisher(client SQSSender, queueURL string, clock types.Clock, logger types.Logger) *EventPublisher {
	return &EventPublisher{client: client, queueURL: queueURL, clock: clock, logger: logger}
}

// Publish fills in EventID and OccurredAt when absent, validates the event and
// sends it. The event ID doubles as the SQS deduplication hint in logs.
func (p *EventPublisher) Publish(ctx context.Context, ev types.DomainEvent) (string, error) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.clock.Now()
	}
	if err := validate.Struct(ev); err != nil {
		return "", types.NewAppError(types.ErrCodeValidationInvalidEvent, err.Error(), err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("event publisher: failed to marshal event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			AttrEventType: {DataType: aws.String("String"), StringValue: aws.String(string(ev.Type))},
		},
	})
	if err != nil {
		return "", fmt.Errorf("event publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("domain event published",
		"event_id", ev.EventID,
		"event_type", string(ev.Type),
		"member_id", ev.MemberID,
	)
	return ev.EventID, nil
}

// ParseEvent decodes and validates an SQS message body.
func ParseEvent(body string) (types.DomainEvent, error) {
	var ev types.DomainEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return ev, types.NewAppError(types.ErrCodeValidationInvalidEvent, "event body is not valid JSON", err)
	}
	if err := validate.Struct(ev); err != nil {
		return ev, types.NewAppError(types.ErrCodeValidationInvalidEvent, err.Error(), err)
	}
	return ev, nil
}

// Age is how long ago the event occurred, for trigger lag logging.
func Age(ev types.DomainEvent, now time.Time) time.Duration {
	return now.Sub(ev.OccurredAt)
}
