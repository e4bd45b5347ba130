package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/db"
	"github.com/hpark-dev/ordernoti/internal/metrics"
)

// ContactStore loads the recipient set for a company.
type ContactStore interface {
	ListActiveContacts(ctx context.Context, companyID uuid.UUID) ([]db.Contact, error)
}

// AttemptStore persists notification attempts.
type AttemptStore interface {
	GetByKey(ctx context.Context, emailLogID uuid.UUID, channel, recipient string) (*db.NotificationLog, error)
	Insert(ctx context.Context, n *db.NotificationLog) (*db.NotificationLog, error)
	UpdateState(ctx context.Context, id uuid.UUID, status string, retryCount int, errorMsg *string, nextRetryAt *time.Time, providerMessageID *string, sentAt *time.Time) error
}

// Usage is the metering boundary consumed by billing.
type Usage interface {
	RecordNotificationSent(ctx context.Context, tenantID uuid.UUID)
}

// DeliveryDateFunc computes the expected delivery date business rule
// from a message's received timestamp. It is an external collaborator;
// DefaultDeliveryDate is used when none is injected.
type DeliveryDateFunc func(receivedAt time.Time) time.Time

// DefaultDeliveryDate returns the next business day after receipt,
// skipping weekends.
func DefaultDeliveryDate(receivedAt time.Time) time.Time {
	d := receivedAt.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// RecipientResult is one (contact, channel) dispatch outcome.
type RecipientResult struct {
	NotificationLogID uuid.UUID
	Channel           string
	Recipient         string
	Success           bool
	Skipped           bool
	Err               error
}

// DispatchResult aggregates one message's recipient outcomes.
type DispatchResult struct {
	Results []RecipientResult
	Sent    int
	Failed  int
	Skipped int
}

// Dispatcher fans one matched message out to every eligible
// (contact, channel) pair, exactly once per pair.
type Dispatcher struct {
	contacts     ContactStore
	attempts     AttemptStore
	templates    *TemplateEngine
	sender       ChannelSender
	usage        Usage
	deliveryDate DeliveryDateFunc
	maxRetries   int
	now          func() time.Time
	logger       *zap.Logger
}

// DispatcherConfig wires the dispatcher's collaborators.
type DispatcherConfig struct {
	Contacts     ContactStore
	Attempts     AttemptStore
	Templates    *TemplateEngine
	Sender       ChannelSender
	Usage        Usage
	DeliveryDate DeliveryDateFunc
	MaxRetries   int
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.DeliveryDate == nil {
		cfg.DeliveryDate = DefaultDeliveryDate
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Dispatcher{
		contacts:     cfg.Contacts,
		attempts:     cfg.Attempts,
		templates:    cfg.Templates,
		sender:       cfg.Sender,
		usage:        cfg.Usage,
		deliveryDate: cfg.DeliveryDate,
		maxRetries:   cfg.MaxRetries,
		now:          time.Now,
		logger:       logger,
	}
}

// Dispatch sends the order notification for one matched message to all
// eligible contacts of the company. Per-recipient failures are captured
// in the result list, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, company db.Company, email *db.EmailLog) (DispatchResult, error) {
	contacts, err := d.contacts.ListActiveContacts(ctx, company.ID)
	if err != nil {
		return DispatchResult{}, err
	}

	vars := d.buildVars(company, email)

	var result DispatchResult
	for _, contact := range contacts {
		for _, channel := range enabledChannels(contact) {
			res := d.attempt(ctx, company, email, contact, channel, vars)
			result.Results = append(result.Results, res)
			switch {
			case res.Skipped:
				result.Skipped++
			case res.Success:
				result.Sent++
			default:
				result.Failed++
			}
		}
	}

	d.logger.Info("dispatch complete",
		zap.String("email_log_id", email.ID.String()),
		zap.String("company", company.Name),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)

	return result, nil
}

func enabledChannels(c db.Contact) []string {
	var channels []string
	if c.SMSEnabled {
		channels = append(channels, db.ChannelSMS)
	}
	if c.ChatEnabled {
		channels = append(channels, db.ChannelChat)
	}
	return channels
}

func (d *Dispatcher) buildVars(company db.Company, email *db.EmailLog) map[string]string {
	return map[string]string{
		"company":       company.Name,
		"sender":        email.Sender,
		"subject":       email.Subject,
		"delivery_date": d.deliveryDate(email.ReceivedAt).Format("2006-01-02"),
	}
}

// attempt performs the upsert-then-send cycle for one (contact, channel)
// pair.
func (d *Dispatcher) attempt(ctx context.Context, company db.Company, email *db.EmailLog, contact db.Contact, channel string, vars map[string]string) RecipientResult {
	recipient := contact.Phone
	res := RecipientResult{Channel: channel, Recipient: recipient}

	existing, err := d.attempts.GetByKey(ctx, email.ID, channel, recipient)
	if err != nil {
		res.Err = err
		return res
	}

	switch DecideAttempt(existing) {
	case AttemptSkip:
		// Already terminal; idempotent success, no network call.
		res.NotificationLogID = existing.ID
		res.Success = existing.Succeeded()
		res.Skipped = true
		return res

	case AttemptCreate:
		n := &db.NotificationLog{
			TenantID:   email.TenantID,
			EmailLogID: email.ID,
			CompanyID:  company.ID,
			ContactID:  contact.ID,
			Channel:    channel,
			Recipient:  recipient,
			Status:     db.StatusSending,
			MaxRetries: d.maxRetries,
		}
		n, err = d.attempts.Insert(ctx, n)
		if err != nil {
			res.Err = err
			return res
		}
		existing = n

	case AttemptReuse:
		err = d.attempts.UpdateState(ctx, existing.ID, db.StatusSending,
			existing.RetryCount, nil, nil, nil, nil)
		if err != nil {
			res.Err = err
			return res
		}
	}

	res.NotificationLogID = existing.ID

	vars["name"] = contact.Name
	content, err := d.templates.Resolve(ctx, email.TenantID, "order_notification", channel)
	if err != nil {
		res.Err = err
		return res
	}

	return d.send(ctx, existing, Render(content, vars), res)
}

// send makes the provider call and applies the resulting state
// transition.
func (d *Dispatcher) send(ctx context.Context, n *db.NotificationLog, content string, res RecipientResult) RecipientResult {
	receipt, sendErr := d.sender.Send(ctx, Outbound{
		TenantID:  n.TenantID,
		Channel:   n.Channel,
		Recipient: n.Recipient,
		Content:   content,
		Ref:       n.ID.String(),
	})

	outcome := OutcomeFor(n, receipt, sendErr, d.now())
	if err := d.attempts.UpdateState(ctx, n.ID, outcome.Status, outcome.RetryCount,
		outcome.ErrorMessage, outcome.NextRetryAt, outcome.ProviderMessageID, outcome.SentAt); err != nil {
		res.Err = err
		return res
	}

	metrics.RecordNotification(n.Channel, outcome.Status)

	if sendErr != nil {
		d.logger.Warn("notification send failed",
			zap.String("notification_log_id", n.ID.String()),
			zap.String("channel", n.Channel),
			zap.Int("retry_count", outcome.RetryCount),
			zap.Error(sendErr),
		)
		res.Err = sendErr
		return res
	}

	if d.usage != nil {
		d.usage.RecordNotificationSent(ctx, n.TenantID)
	}
	res.Success = true
	return res
}

// Resend re-attempts one previously failed notification. The template is
// re-rendered so time-derived variables like the delivery date are
// recomputed rather than trusted from the original attempt.
func (d *Dispatcher) Resend(ctx context.Context, n *db.NotificationLog, company db.Company, contact db.Contact, email *db.EmailLog) RecipientResult {
	res := RecipientResult{
		NotificationLogID: n.ID,
		Channel:           n.Channel,
		Recipient:         n.Recipient,
	}

	if err := d.attempts.UpdateState(ctx, n.ID, db.StatusSending,
		n.RetryCount, nil, nil, nil, nil); err != nil {
		res.Err = err
		return res
	}

	vars := d.buildVars(company, email)
	vars["name"] = contact.Name
	content, err := d.templates.Resolve(ctx, n.TenantID, "order_notification", n.Channel)
	if err != nil {
		res.Err = err
		return res
	}

	return d.send(ctx, n, Render(content, vars), res)
}
