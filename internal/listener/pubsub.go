package listener

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/api/option"
	pubsub "google.golang.org/api/pubsub/v1"

	"backup-sentinel/internal/backup"
)

// PubSubConfig names the subscription to pull from
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	Subscription    string `mapstructure:"subscription" yaml:"subscription"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// PubSubSource pulls messages from a Cloud Pub/Sub subscription over the
// REST API.
type PubSubSource struct {
	subscriptions *pubsub.ProjectsSubscriptionsService
	subscription  string
}

// NewPubSubSource creates a pull source. Extra client options are appended
// after the credentials option.
func NewPubSubSource(ctx context.Context, cfg PubSubConfig, opts ...option.ClientOption) (*PubSubSource, error) {
	if cfg.ProjectID == "" || cfg.Subscription == "" {
		return nil, backup.NewConfigurationError("pubsub project id and subscription are required", nil)
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsPath != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	clientOpts = append(clientOpts, opts...)

	service, err := pubsub.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, backup.NewConfigurationError("failed to create pubsub client", err)
	}
	return &PubSubSource{
		subscriptions: service.Projects.Subscriptions,
		subscription:  fmt.Sprintf("projects/%s/subscriptions/%s", cfg.ProjectID, cfg.Subscription),
	}, nil
}

// Receive pulls up to max messages
func (p *PubSubSource) Receive(ctx context.Context, max int) ([]Message, error) {
	resp, err := p.subscriptions.Pull(p.subscription, &pubsub.PullRequest{MaxMessages: int64(max)}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(resp.ReceivedMessages))
	for _, rm := range resp.ReceivedMessages {
		msg := Message{AckID: rm.AckId}
		if rm.Message != nil {
			msg.ID = rm.Message.MessageId
			// undecodable data is left empty and rejected by the parser
			msg.Data, _ = base64.StdEncoding.DecodeString(rm.Message.Data)
			msg.PublishTime, _ = time.Parse(time.RFC3339Nano, rm.Message.PublishTime)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Ack acknowledges processed messages
func (p *PubSubSource) Ack(ctx context.Context, ackIDs ...string) error {
	if len(ackIDs) == 0 {
		return nil
	}
	_, err := p.subscriptions.Acknowledge(p.subscription, &pubsub.AcknowledgeRequest{AckIds: ackIDs}).Context(ctx).Do()
	return err
}

// Nack makes messages immediately available for redelivery
func (p *PubSubSource) Nack(ctx context.Context, ackIDs ...string) error {
	if len(ackIDs) == 0 {
		return nil
	}
	req := &pubsub.ModifyAckDeadlineRequest{
		AckIds:             ackIDs,
		AckDeadlineSeconds: 0,
		ForceSendFields:    []string{"AckDeadlineSeconds"},
	}
	_, err := p.subscriptions.ModifyAckDeadline(p.subscription, req).Context(ctx).Do()
	return err
}
