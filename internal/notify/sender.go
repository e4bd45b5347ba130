// Package notify renders and dispatches notifications to a matched
// business's contacts, and owns the retry and batch-announcement jobs.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/db"
)

// Outbound is one rendered message bound for a channel provider.
type Outbound struct {
	TenantID  uuid.UUID
	Channel   string
	Recipient string
	Content   string
	// Ref carries the notification log or announcement recipient id for
	// provider-side tracing headers.
	Ref string
}

// Receipt is the provider's answer to a successful send.
type Receipt struct {
	ProviderMessageID string
	// Delivered is true when the provider confirms delivery
	// synchronously rather than just accepting the message.
	Delivered bool
}

// ChannelSender is the unified interface over SMS and chat-app providers.
type ChannelSender interface {
	Send(ctx context.Context, out Outbound) (Receipt, error)
	SupportsChannel(channel string) bool
}

// MultiSender routes each message to the first sender that supports its
// channel.
type MultiSender struct {
	senders []ChannelSender
	logger  *zap.Logger
}

// NewMultiSender creates a router over multiple channel senders.
func NewMultiSender(logger *zap.Logger, senders ...ChannelSender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the message to the appropriate sender based on channel.
func (m *MultiSender) Send(ctx context.Context, out Outbound) (Receipt, error) {
	for _, sender := range m.senders {
		if sender.SupportsChannel(out.Channel) {
			return sender.Send(ctx, out)
		}
	}
	return Receipt{}, fmt.Errorf("no sender found for channel: %s", out.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs messages instead of sending them (development mode).
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a sender that only logs.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, out Outbound) (Receipt, error) {
	s.logger.Info("logging notification (development mode)",
		zap.String("channel", out.Channel),
		zap.String("recipient", out.Recipient),
		zap.String("content", out.Content),
	)
	return Receipt{ProviderMessageID: "log-" + out.Ref}, nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS || channel == db.ChannelChat
}
