package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// usageTTL keeps per-month counters around long enough for billing to
// read them before they expire.
const usageTTL = 90 * 24 * time.Hour

// UsageRecorder maintains the tenant-scoped usage counters consumed by
// the billing subsystem. All recording is fire-and-forget: a metering
// failure must never fail the pipeline that caused it.
type UsageRecorder struct {
	client *Client
	logger *zap.Logger
}

// NewUsageRecorder creates a usage metering recorder.
func NewUsageRecorder(client *Client, logger *zap.Logger) *UsageRecorder {
	return &UsageRecorder{
		client: client,
		logger: logger,
	}
}

func (u *UsageRecorder) buildKey(tenantID uuid.UUID, counter string, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%s", tenantID, now.Format("200601"), counter)
}

func (u *UsageRecorder) increment(ctx context.Context, tenantID uuid.UUID, counter string) {
	key := u.buildKey(tenantID, counter, time.Now())

	pipe := u.client.rdb.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, usageTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		u.logger.Warn("usage counter increment failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("counter", counter),
			zap.Error(err),
		)
	}
}

// RecordEmailProcessed counts one ingested order email for the tenant.
func (u *UsageRecorder) RecordEmailProcessed(ctx context.Context, tenantID uuid.UUID) {
	u.increment(ctx, tenantID, "emails")
}

// RecordNotificationSent counts one successfully sent notification.
func (u *UsageRecorder) RecordNotificationSent(ctx context.Context, tenantID uuid.UUID) {
	u.increment(ctx, tenantID, "notifications")
}
