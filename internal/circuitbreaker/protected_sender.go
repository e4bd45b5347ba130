package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/notify"
)

// ProtectedSender wraps a channel sender with a CircuitBreaker. While
// the downstream SMS or chat provider is failing, sends are rejected
// immediately with ErrCircuitOpen instead of piling up on timeouts.
type ProtectedSender struct {
	sender  notify.ChannelSender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender notify.ChannelSender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send delivers through the breaker. A rejected send counts as a normal
// delivery failure upstream and follows the usual retry path.
func (p *ProtectedSender) Send(ctx context.Context, out notify.Outbound) (notify.Receipt, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("channel", out.Channel),
			zap.String("ref", out.Ref),
			zap.String("state", p.breaker.GetState().String()),
		)
		return notify.Receipt{}, fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	receipt, err := p.sender.Send(ctx, out)
	if err != nil {
		p.breaker.RecordFailure()
		return notify.Receipt{}, err
	}

	p.breaker.RecordSuccess()
	return receipt, nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker exposes the underlying breaker for the ops endpoint.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
