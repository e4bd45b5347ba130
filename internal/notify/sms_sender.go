package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/db"
)

// SMSSender sends SMS notifications via AWS SNS.
type SMSSender struct {
	client *sns.Client
	logger *zap.Logger
}

// SMSConfig holds SNS settings.
type SMSConfig struct {
	Region string
}

// NewSMSSender creates an SNS-backed SMS sender.
func NewSMSSender(ctx context.Context, cfg SMSConfig, logger *zap.Logger) (*SMSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}

	return &SMSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send publishes one SMS directly to the recipient phone number.
func (s *SMSSender) Send(ctx context.Context, out Outbound) (Receipt, error) {
	if out.Channel != db.ChannelSMS {
		return Receipt{}, fmt.Errorf("sms sender only supports sms, got: %s", out.Channel)
	}
	if out.Recipient == "" {
		return Receipt{}, fmt.Errorf("sms message missing recipient phone number")
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(out.Recipient),
		Message:     aws.String(out.Content),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("sns publish failed: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}

	s.logger.Info("sms sent",
		zap.String("recipient", out.Recipient),
		zap.String("provider_message_id", messageID),
	)

	return Receipt{ProviderMessageID: messageID}, nil
}

// SupportsChannel reports whether this sender handles the channel.
func (s *SMSSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS
}
