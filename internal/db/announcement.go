package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// AnnouncementRepository persists batch announcements and their
// materialized per-contact recipient rows.
type AnnouncementRepository struct {
	db     *DB
	logger *zap.Logger
	sb     sq.StatementBuilderType
}

// NewAnnouncementRepository creates a new announcement repository
func NewAnnouncementRepository(db *DB, logger *zap.Logger) *AnnouncementRepository {
	return &AnnouncementRepository{
		db:     db,
		logger: logger,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const announcementColumns = `
	id, tenant_id, title, content, channel, status, filter_all, contact_ids,
	region, scheduled_at, total_count, sent_count, failed_count,
	created_at, updated_at
`

func scanAnnouncement(row pgx.Row) (*Announcement, error) {
	var a Announcement
	var contactIDs []byte
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Title, &a.Content, &a.Channel, &a.Status,
		&a.FilterAll, &contactIDs, &a.Region, &a.ScheduledAt,
		&a.TotalCount, &a.SentCount, &a.FailedCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(contactIDs) > 0 {
		if err := json.Unmarshal(contactIDs, &a.ContactIDs); err != nil {
			return nil, fmt.Errorf("decode contact ids: %w", err)
		}
	}
	return &a, nil
}

// GetDue returns scheduled announcements whose scheduled_at has passed.
func (r *AnnouncementRepository) GetDue(ctx context.Context, now time.Time) ([]*Announcement, error) {
	query := `SELECT ` + announcementColumns + `
		FROM announcements
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, AnnouncementScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("query due announcements: %w", err)
	}
	defer rows.Close()

	var due []*Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		due = append(due, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return due, nil
}

// GetStatus re-reads only the lifecycle status; the batch sender calls
// this before every batch to observe external cancellation.
func (r *AnnouncementRepository) GetStatus(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := r.db.Pool().QueryRow(ctx,
		`SELECT status FROM announcements WHERE id = $1`, id,
	).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", fmt.Errorf("announcement not found: %s", id)
	}
	if err != nil {
		return "", fmt.Errorf("query announcement status: %w", err)
	}
	return status, nil
}

// TransitionStatus moves an announcement from one lifecycle status to
// another. Returns false when the row was not in the expected status,
// which callers treat as "someone else got here first".
func (r *AnnouncementRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE announcements SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition announcement status: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MaterializeRecipients resolves the announcement's abstract filter into
// concrete recipient rows and records the total count. Safe to call
// again after a crash: existing rows are kept via ON CONFLICT.
func (r *AnnouncementRepository) MaterializeRecipients(ctx context.Context, a *Announcement) (int, error) {
	builder := r.sb.
		Select("id", "phone").
		From("contacts").
		Where(sq.Eq{"tenant_id": a.TenantID}).
		Where(sq.Eq{"active": true}).
		Where("phone <> ''")

	if !a.FilterAll {
		builder = builder.Where(sq.Eq{"id": a.ContactIDs})
	}
	if a.Region != nil && *a.Region != "" {
		builder = builder.Where(
			"company_id IN (SELECT id FROM companies WHERE tenant_id = ? AND region = ?)",
			a.TenantID, *a.Region,
		)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build recipient query: %w", err)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query filter contacts: %w", err)
	}
	defer rows.Close()

	type target struct {
		id    uuid.UUID
		phone string
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.id, &t.phone); err != nil {
			return 0, fmt.Errorf("scan contact: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate rows: %w", err)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range targets {
		_, err := tx.Exec(ctx, `
			INSERT INTO announcement_recipients (id, announcement_id, contact_id, phone, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (announcement_id, contact_id) DO NOTHING
		`, uuid.New(), a.ID, t.id, t.phone, StatusPending)
		if err != nil {
			return 0, fmt.Errorf("insert recipient: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE announcements SET total_count = $1, updated_at = NOW() WHERE id = $2
	`, len(targets), a.ID)
	if err != nil {
		return 0, fmt.Errorf("update total count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("announcement recipients materialized",
		zap.String("announcement_id", a.ID.String()),
		zap.Int("recipients", len(targets)),
	)

	return len(targets), nil
}

// GetPendingRecipients returns the next batch of unsent recipients.
func (r *AnnouncementRepository) GetPendingRecipients(ctx context.Context, announcementID uuid.UUID, limit int) ([]*AnnouncementRecipient, error) {
	query := `
		SELECT id, announcement_id, contact_id, phone, status, error_message, sent_at
		FROM announcement_recipients
		WHERE announcement_id = $1 AND status = $2
		ORDER BY id
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, announcementID, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*AnnouncementRecipient
	for rows.Next() {
		var rec AnnouncementRecipient
		err := rows.Scan(&rec.ID, &rec.AnnouncementID, &rec.ContactID, &rec.Phone,
			&rec.Status, &rec.ErrorMessage, &rec.SentAt)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return recipients, nil
}

// UpdateRecipientStatus records one recipient's send outcome.
func (r *AnnouncementRepository) UpdateRecipientStatus(ctx context.Context, id uuid.UUID, status string, errorMsg *string, sentAt *time.Time) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE announcement_recipients
		SET status = $1, error_message = $2, sent_at = $3
		WHERE id = $4
	`, status, errorMsg, sentAt, id)
	if err != nil {
		return fmt.Errorf("update recipient status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("announcement recipient not found: %s", id)
	}
	return nil
}

// IncrementCounters atomically adds one batch's sent/failed counts to the
// announcement aggregates.
func (r *AnnouncementRepository) IncrementCounters(ctx context.Context, id uuid.UUID, sent, failed int) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE announcements
		SET sent_count = sent_count + $1, failed_count = failed_count + $2,
			updated_at = NOW()
		WHERE id = $3
	`, sent, failed, id)
	if err != nil {
		return fmt.Errorf("increment announcement counters: %w", err)
	}
	return nil
}
