package db

import (
	"time"

	"github.com/google/uuid"
)

// Notification status constants. A NotificationLog moves through
// pending -> sending -> sent/delivered, or loops through pending_retry
// until it terminally fails or is cancelled.
const (
	StatusPending      = "pending"
	StatusSending      = "sending"
	StatusSent         = "sent"
	StatusDelivered    = "delivered"
	StatusFailed       = "failed"
	StatusPendingRetry = "pending_retry"
	StatusCancelled    = "cancelled"
)

// Channel constants
const (
	ChannelSMS  = "sms"
	ChannelChat = "chat"
)

// Email log match status. Unmatched mail is counted and logged but never
// persisted, so every stored row is matched.
const (
	MatchStatusMatched = "matched"
)

// Announcement lifecycle status
const (
	AnnouncementDraft     = "draft"
	AnnouncementScheduled = "scheduled"
	AnnouncementSending   = "sending"
	AnnouncementCompleted = "completed"
	AnnouncementCancelled = "cancelled"
	AnnouncementFailed    = "failed"
)

// Tenant is an isolated customer account. This service only ever reads it.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MailAccount is a tenant's mail-server connection plus the tenant's
// order-keyword settings. Written only by the settings UI; the poller
// treats it as read-only.
type MailAccount struct {
	ID                   uuid.UUID `json:"id"`
	TenantID             uuid.UUID `json:"tenant_id"`
	Host                 string    `json:"host"`
	Port                 int       `json:"port"`
	Username             string    `json:"username"`
	Password             string    `json:"-"`
	UseTLS               bool      `json:"use_tls"`
	Enabled              bool      `json:"enabled"`
	AutoMarkRead         bool      `json:"auto_mark_read"`
	OrderKeywords        []string  `json:"order_keywords,omitempty"`
	KeywordCheckDisabled bool      `json:"keyword_check_disabled"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Configured reports whether the account has everything the poller needs.
func (a MailAccount) Configured() bool {
	return a.Host != "" && a.Port > 0 && a.Username != "" && a.Password != ""
}

// Company is a registered counterparty whose inbound mail is monitored.
// Unique per (tenant, email) and (tenant, name).
type Company struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Region    string    `json:"region"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact is a person at a Company eligible for notification.
type Contact struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	CompanyID   uuid.UUID `json:"company_id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Email       *string   `json:"email,omitempty"`
	SMSEnabled  bool      `json:"sms_enabled"`
	ChatEnabled bool      `json:"chat_enabled"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// AttachmentMeta describes one MIME attachment of an ingested email.
// Data holds the base64-encoded bytes for attachments under the size
// ceiling; oversized attachments keep metadata only.
type AttachmentMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Data        string `json:"data,omitempty"`
}

// EmailLog is the durable record of one ingested order email and the
// anchor for de-duplication: unique per (tenant_id, message_identity).
type EmailLog struct {
	ID              uuid.UUID        `json:"id"`
	TenantID        uuid.UUID        `json:"tenant_id"`
	MessageIdentity string           `json:"message_identity"`
	Sender          string           `json:"sender"`
	SenderName      string           `json:"sender_name"`
	Subject         string           `json:"subject"`
	ReceivedAt      time.Time        `json:"received_at"`
	BodyText        string           `json:"body_text"`
	BodyHTML        string           `json:"body_html"`
	Attachments     []AttachmentMeta `json:"attachments,omitempty"`
	MatchStatus     string           `json:"match_status"`
	CompanyID       *uuid.UUID       `json:"company_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// NotificationLog is one notification goal for a (channel, recipient,
// triggering email) tuple and its delivery state machine. Rows are
// mutated in place and never deleted, only pruned after retention.
type NotificationLog struct {
	ID                uuid.UUID  `json:"id"`
	TenantID          uuid.UUID  `json:"tenant_id"`
	EmailLogID        uuid.UUID  `json:"email_log_id"`
	CompanyID         uuid.UUID  `json:"company_id"`
	ContactID         uuid.UUID  `json:"contact_id"`
	Channel           string     `json:"channel"`
	Recipient         string     `json:"recipient"`
	Status            string     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	MaxRetries        int        `json:"max_retries"`
	NextRetryAt       *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Succeeded reports whether this attempt reached a successful terminal state.
func (n NotificationLog) Succeeded() bool {
	return n.Status == StatusSent || n.Status == StatusDelivered
}

// Announcement is a manually triggered batch message to a filtered
// recipient set. Aggregate counters are maintained by the batch sender.
type Announcement struct {
	ID          uuid.UUID   `json:"id"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	Channel     string      `json:"channel"`
	Status      string      `json:"status"`
	FilterAll   bool        `json:"filter_all"`
	ContactIDs  []uuid.UUID `json:"contact_ids,omitempty"`
	Region      *string     `json:"region,omitempty"`
	ScheduledAt *time.Time  `json:"scheduled_at,omitempty"`
	TotalCount  int         `json:"total_count"`
	SentCount   int         `json:"sent_count"`
	FailedCount int         `json:"failed_count"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// AnnouncementRecipient is one materialized per-contact row of a batch send.
type AnnouncementRecipient struct {
	ID             uuid.UUID  `json:"id"`
	AnnouncementID uuid.UUID  `json:"announcement_id"`
	ContactID      uuid.UUID  `json:"contact_id"`
	Phone          string     `json:"phone"`
	Status         string     `json:"status"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}
