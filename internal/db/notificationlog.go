package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// NotificationLogRepository persists per-recipient notification attempts
// and their delivery state machine.
type NotificationLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewNotificationLogRepository creates a new notification log repository
func NewNotificationLogRepository(db *DB, logger *zap.Logger) *NotificationLogRepository {
	return &NotificationLogRepository{
		db:     db,
		logger: logger,
	}
}

const notificationLogColumns = `
	id, tenant_id, email_log_id, company_id, contact_id, channel, recipient,
	status, retry_count, max_retries, next_retry_at, error_message,
	provider_message_id, sent_at, created_at, updated_at
`

func scanNotificationLog(row pgx.Row) (*NotificationLog, error) {
	var n NotificationLog
	err := row.Scan(
		&n.ID, &n.TenantID, &n.EmailLogID, &n.CompanyID, &n.ContactID,
		&n.Channel, &n.Recipient, &n.Status, &n.RetryCount, &n.MaxRetries,
		&n.NextRetryAt, &n.ErrorMessage, &n.ProviderMessageID, &n.SentAt,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetByKey finds the attempt for a (email, channel, recipient) tuple.
// Returns (nil, nil) when none exists.
func (r *NotificationLogRepository) GetByKey(ctx context.Context, emailLogID uuid.UUID, channel, recipient string) (*NotificationLog, error) {
	query := `SELECT ` + notificationLogColumns + `
		FROM notification_logs
		WHERE email_log_id = $1 AND channel = $2 AND recipient = $3
	`

	n, err := scanNotificationLog(r.db.Pool().QueryRow(ctx, query, emailLogID, channel, recipient))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query notification log: %w", err)
	}

	return n, nil
}

// Insert creates a new attempt row. The unique constraint on
// (email_log_id, channel, recipient) makes concurrent creation converge
// the same way the email-log ledger does.
func (r *NotificationLogRepository) Insert(ctx context.Context, n *NotificationLog) (*NotificationLog, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	query := `
		INSERT INTO notification_logs (
			id, tenant_id, email_log_id, company_id, contact_id, channel,
			recipient, status, retry_count, max_retries, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (email_log_id, channel, recipient) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		n.ID, n.TenantID, n.EmailLogID, n.CompanyID, n.ContactID, n.Channel,
		n.Recipient, n.Status, n.RetryCount, n.MaxRetries, n.NextRetryAt,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err == pgx.ErrNoRows {
		existing, findErr := r.GetByKey(ctx, n.EmailLogID, n.Channel, n.Recipient)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, fmt.Errorf("notification log vanished after conflict")
		}
		return existing, nil
	}

	if err != nil {
		r.logger.Error("failed to insert notification log",
			zap.Error(err),
			zap.String("email_log_id", n.EmailLogID.String()),
			zap.String("channel", n.Channel),
		)
		return nil, fmt.Errorf("insert notification log: %w", err)
	}

	return n, nil
}

// UpdateState applies a state-machine transition to an attempt row.
func (r *NotificationLogRepository) UpdateState(
	ctx context.Context,
	id uuid.UUID,
	status string,
	retryCount int,
	errorMsg *string,
	nextRetryAt *time.Time,
	providerMessageID *string,
	sentAt *time.Time,
) error {
	query := `
		UPDATE notification_logs
		SET status = $1, retry_count = $2, error_message = $3,
			next_retry_at = $4, provider_message_id = $5, sent_at = $6,
			updated_at = NOW()
		WHERE id = $7
	`

	result, err := r.db.Pool().Exec(ctx, query,
		status, retryCount, errorMsg, nextRetryAt, providerMessageID, sentAt, id,
	)
	if err != nil {
		r.logger.Error("failed to update notification log",
			zap.Error(err),
			zap.String("notification_log_id", id.String()),
		)
		return fmt.Errorf("update notification log: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification log not found: %s", id)
	}

	return nil
}

// GetDueRetries returns attempts in pending_retry whose next_retry_at has
// passed, oldest-due first, bounded to limit.
func (r *NotificationLogRepository) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*NotificationLog, error) {
	query := `SELECT ` + notificationLogColumns + `
		FROM notification_logs
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, StatusPendingRetry, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	defer rows.Close()

	var due []*NotificationLog
	for rows.Next() {
		n, err := scanNotificationLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		due = append(due, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return due, nil
}

// PruneOld deletes terminal notification logs older than the retention
// window. Returns how many rows were removed.
func (r *NotificationLogRepository) PruneOld(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM notification_logs
		WHERE created_at < $1 AND status IN ($2, $3, $4, $5)
	`

	result, err := r.db.Pool().Exec(ctx, query,
		olderThan, StatusSent, StatusDelivered, StatusFailed, StatusCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("prune notification logs: %w", err)
	}

	if n := result.RowsAffected(); n > 0 {
		r.logger.Info("pruned old notification logs", zap.Int64("rows", n))
		return n, nil
	}

	return 0, nil
}
