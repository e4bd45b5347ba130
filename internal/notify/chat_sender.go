package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/db"
)

// ChatSender delivers chat-app notifications through the configured
// vendor webhook endpoint.
type ChatSender struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// ChatConfig holds chat provider settings.
type ChatConfig struct {
	Endpoint string
	Timeout  time.Duration
}

type chatRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	Ref  string `json:"ref,omitempty"`
}

type chatResponse struct {
	MessageID string `json:"message_id"`
	Delivered bool   `json:"delivered"`
}

// NewChatSender creates a webhook-backed chat sender.
func NewChatSender(cfg ChatConfig, logger *zap.Logger) *ChatSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &ChatSender{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Send posts one message to the chat vendor.
func (s *ChatSender) Send(ctx context.Context, out Outbound) (Receipt, error) {
	if out.Channel != db.ChannelChat {
		return Receipt{}, fmt.Errorf("chat sender only supports chat, got: %s", out.Channel)
	}
	if s.endpoint == "" {
		return Receipt{}, fmt.Errorf("chat sender endpoint not configured")
	}

	payload, err := json.Marshal(chatRequest{
		To:   out.Recipient,
		Text: out.Content,
		Ref:  out.Ref,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ordernoti-Ref", out.Ref)

	resp, err := s.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("chat provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Provider accepted the message even if the body is opaque.
		s.logger.Debug("chat provider response not parseable",
			zap.String("body", string(body)),
		)
		return Receipt{}, nil
	}

	return Receipt{
		ProviderMessageID: parsed.MessageID,
		Delivered:         parsed.Delivered,
	}, nil
}

// SupportsChannel reports whether this sender handles the channel.
func (s *ChatSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelChat
}
