package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/db"
)

// DBTemplateSource reads tenant-configured message templates from
// Postgres. A missing row means the embedded default applies.
type DBTemplateSource struct {
	db     *db.DB
	logger *zap.Logger
}

// NewDBTemplateSource creates a database-backed template source.
func NewDBTemplateSource(database *db.DB, logger *zap.Logger) *DBTemplateSource {
	return &DBTemplateSource{db: database, logger: logger}
}

// GetTemplate returns the tenant's template for (name, channel), or
// (nil, nil) when none is configured.
func (s *DBTemplateSource) GetTemplate(ctx context.Context, tenantID uuid.UUID, name, channel string) (*Template, error) {
	query := `
		SELECT name, channel, content
		FROM message_templates
		WHERE tenant_id = $1 AND name = $2 AND channel = $3
	`

	var t Template
	err := s.db.Pool().QueryRow(ctx, query, tenantID, name, channel).
		Scan(&t.Name, &t.Channel, &t.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	return &t, nil
}
