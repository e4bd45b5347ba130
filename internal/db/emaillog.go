package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// EmailLogRepository is the deduplication ledger. The uniqueness
// constraint on (tenant_id, message_identity) is the sole authority for
// "have we already handled this physical message"; the IMAP seen flag is
// only a best-effort hint on top.
type EmailLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// LedgerEntry is the result of a dedup lookup: the existing row, if any,
// and whether it already has a successful notification attached.
type LedgerEntry struct {
	Email                     *EmailLog
	HasSuccessfulNotification bool
}

// NewEmailLogRepository creates the dedup ledger repository
func NewEmailLogRepository(db *DB, logger *zap.Logger) *EmailLogRepository {
	return &EmailLogRepository{
		db:     db,
		logger: logger,
	}
}

const emailLogColumns = `
	id, tenant_id, message_identity, sender, sender_name, subject,
	received_at, body_text, body_html, attachments, match_status,
	company_id, created_at
`

func scanEmailLog(row pgx.Row) (*EmailLog, error) {
	var e EmailLog
	var attachments []byte
	err := row.Scan(
		&e.ID, &e.TenantID, &e.MessageIdentity, &e.Sender, &e.SenderName,
		&e.Subject, &e.ReceivedAt, &e.BodyText, &e.BodyHTML, &attachments,
		&e.MatchStatus, &e.CompanyID, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &e.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return &e, nil
}

// FindByIdentity looks up an email log by its stable message identity and
// reports whether any linked notification already succeeded.
// Returns (nil, nil) when no row exists.
func (r *EmailLogRepository) FindByIdentity(ctx context.Context, tenantID uuid.UUID, identity string) (*LedgerEntry, error) {
	query := `SELECT ` + emailLogColumns + `
		FROM email_logs
		WHERE tenant_id = $1 AND message_identity = $2
	`

	email, err := scanEmailLog(r.db.Pool().QueryRow(ctx, query, tenantID, identity))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query email log: %w", err)
	}

	var hasSuccess bool
	err = r.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notification_logs
			WHERE email_log_id = $1 AND status IN ($2, $3)
		)
	`, email.ID, StatusSent, StatusDelivered).Scan(&hasSuccess)
	if err != nil {
		return nil, fmt.Errorf("query notification success: %w", err)
	}

	return &LedgerEntry{Email: email, HasSuccessfulNotification: hasSuccess}, nil
}

// GetEmailLog retrieves an email log by ID
func (r *EmailLogRepository) GetEmailLog(ctx context.Context, id uuid.UUID) (*EmailLog, error) {
	query := `SELECT ` + emailLogColumns + ` FROM email_logs WHERE id = $1`

	email, err := scanEmailLog(r.db.Pool().QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("email log not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query email log: %w", err)
	}

	return email, nil
}

// Insert persists a new email log. A concurrent insert of the same
// (tenant, identity) is not an error: the existing row is loaded and
// returned instead, so callers always converge on one row per identity.
func (r *EmailLogRepository) Insert(ctx context.Context, e *EmailLog) (*EmailLog, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	attachments, err := json.Marshal(e.Attachments)
	if err != nil {
		return nil, fmt.Errorf("encode attachments: %w", err)
	}

	query := `
		INSERT INTO email_logs (
			id, tenant_id, message_identity, sender, sender_name, subject,
			received_at, body_text, body_html, attachments, match_status, company_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, message_identity) DO NOTHING
		RETURNING created_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		e.ID, e.TenantID, e.MessageIdentity, e.Sender, e.SenderName, e.Subject,
		e.ReceivedAt, e.BodyText, e.BodyHTML, attachments, e.MatchStatus, e.CompanyID,
	).Scan(&e.CreatedAt)

	if err == pgx.ErrNoRows {
		// Someone else created the row first; fall back to the existing one.
		r.logger.Info("email log already exists, reusing",
			zap.String("tenant_id", e.TenantID.String()),
			zap.String("message_identity", e.MessageIdentity),
		)
		entry, findErr := r.FindByIdentity(ctx, e.TenantID, e.MessageIdentity)
		if findErr != nil {
			return nil, findErr
		}
		if entry == nil {
			return nil, fmt.Errorf("email log vanished after conflict: %s", e.MessageIdentity)
		}
		return entry.Email, nil
	}

	if err != nil {
		r.logger.Error("failed to insert email log",
			zap.Error(err),
			zap.String("tenant_id", e.TenantID.String()),
		)
		return nil, fmt.Errorf("insert email log: %w", err)
	}

	return e, nil
}
