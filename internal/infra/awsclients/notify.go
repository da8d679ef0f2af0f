package awsclients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"datahub/pkg/domain"
)

var _ domain.NotificationSink = (*Notifier)(nil)

// Notifier publishes change notifications to an SNS topic. The entity type
// and operation ride along as message attributes so subscribers can filter
// without parsing the body.
type Notifier struct {
	client   *sns.Client
	topicARN string
}

func NewNotifier(cfg aws.Config, topicARN string) *Notifier {
	return &Notifier{client: sns.NewFromConfig(cfg), topicARN: topicARN}
}

type changeMessage struct {
	EntityType domain.EntityType `json:"entityType"`
	Operation  domain.Operation  `json:"operation"`
	Timestamp  time.Time         `json:"timestamp"`
	Payload    any               `json:"payload"`
}

func (n *Notifier) Publish(ctx context.Context, entity domain.EntityType, op domain.Operation, payload any) error {
	body, err := json.Marshal(changeMessage{
		EntityType: entity,
		Operation:  op,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if _, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"entityType": {DataType: aws.String("String"), StringValue: aws.String(string(entity))},
			"operation":  {DataType: aws.String("String"), StringValue: aws.String(string(op))},
		},
	}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
