package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles reads of tenant-owned reference data: mail accounts,
// companies and contacts. All of these are written by the settings UI,
// never by this service.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new reference-data repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListEnabledMailAccounts returns every enabled mail account belonging to
// an active tenant. Accounts with incomplete connection settings are
// filtered by the caller via MailAccount.Configured.
func (r *Repository) ListEnabledMailAccounts(ctx context.Context) ([]MailAccount, error) {
	query := `
		SELECT
			m.id, m.tenant_id, m.host, m.port, m.username, m.password,
			m.use_tls, m.enabled, m.auto_mark_read, m.order_keywords,
			m.keyword_check_disabled, m.updated_at
		FROM mail_accounts m
		JOIN tenants t ON t.id = m.tenant_id
		WHERE m.enabled AND t.active
		ORDER BY m.tenant_id
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query mail accounts: %w", err)
	}
	defer rows.Close()

	var accounts []MailAccount
	for rows.Next() {
		var a MailAccount
		err := rows.Scan(
			&a.ID, &a.TenantID, &a.Host, &a.Port, &a.Username, &a.Password,
			&a.UseTLS, &a.Enabled, &a.AutoMarkRead, &a.OrderKeywords,
			&a.KeywordCheckDisabled, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan mail account: %w", err)
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return accounts, nil
}

// ListActiveCompanies returns all active companies for a tenant.
func (r *Repository) ListActiveCompanies(ctx context.Context, tenantID uuid.UUID) ([]Company, error) {
	query := `
		SELECT id, tenant_id, name, email, region, active, created_at
		FROM companies
		WHERE tenant_id = $1 AND active
		ORDER BY name
	`

	rows, err := r.db.Pool().Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	defer rows.Close()

	var companies []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Region, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		companies = append(companies, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return companies, nil
}

// GetCompany retrieves a company by ID
func (r *Repository) GetCompany(ctx context.Context, id uuid.UUID) (*Company, error) {
	query := `
		SELECT id, tenant_id, name, email, region, active, created_at
		FROM companies
		WHERE id = $1
	`

	var c Company
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Region, &c.Active, &c.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("company not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query company: %w", err)
	}

	return &c, nil
}

// GetContact retrieves a contact by ID
func (r *Repository) GetContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	query := `
		SELECT id, tenant_id, company_id, name, phone, email,
			sms_enabled, chat_enabled, active, created_at
		FROM contacts
		WHERE id = $1
	`

	var c Contact
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&c.ID, &c.TenantID, &c.CompanyID, &c.Name, &c.Phone, &c.Email,
		&c.SMSEnabled, &c.ChatEnabled, &c.Active, &c.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("contact not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}

	return &c, nil
}

// ListActiveContacts returns active contacts of a company that have at
// least one notification channel enabled.
func (r *Repository) ListActiveContacts(ctx context.Context, companyID uuid.UUID) ([]Contact, error) {
	query := `
		SELECT id, tenant_id, company_id, name, phone, email,
			sms_enabled, chat_enabled, active, created_at
		FROM contacts
		WHERE company_id = $1 AND active AND (sms_enabled OR chat_enabled)
		ORDER BY name
	`

	rows, err := r.db.Pool().Query(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		err := rows.Scan(
			&c.ID, &c.TenantID, &c.CompanyID, &c.Name, &c.Phone, &c.Email,
			&c.SMSEnabled, &c.ChatEnabled, &c.Active, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return contacts, nil
}

// ListNotificationAddresses returns the union of active company and
// contact email addresses for a tenant. The mailbox poller uses this as
// its IMAP search set.
func (r *Repository) ListNotificationAddresses(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	query := `
		SELECT email FROM companies WHERE tenant_id = $1 AND active AND email <> ''
		UNION
		SELECT email FROM contacts WHERE tenant_id = $1 AND active AND email IS NOT NULL AND email <> ''
	`

	rows, err := r.db.Pool().Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query notification addresses: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addrs = append(addrs, addr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return addrs, nil
}
