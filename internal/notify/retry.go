package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/db"
	"github.com/hpark-dev/ordernoti/internal/metrics"
)

// RetryQueue surfaces notifications whose retry window has elapsed.
type RetryQueue interface {
	GetDueRetries(ctx context.Context, now time.Time, limit int) ([]*db.NotificationLog, error)
}

// EmailStore loads the originating message for a retry attempt.
type EmailStore interface {
	GetEmailLog(ctx context.Context, id uuid.UUID) (*db.EmailLog, error)
}

// CompanyStore loads the matched company for a retry attempt.
type CompanyStore interface {
	GetCompany(ctx context.Context, id uuid.UUID) (*db.Company, error)
}

// ContactLookup loads the recipient contact for a retry attempt.
type ContactLookup interface {
	GetContact(ctx context.Context, id uuid.UUID) (*db.Contact, error)
}

// RetryScheduler re-drives notifications parked in pending_retry and
// finalizes the ones that exhausted their retry budget.
type RetryScheduler struct {
	queue      RetryQueue
	emails     EmailStore
	companies  CompanyStore
	contacts   ContactLookup
	attempts   AttemptStore
	dispatcher *Dispatcher
	batchSize  int
	pacing     time.Duration
	now        func() time.Time
	busy       atomic.Bool
	logger     *zap.Logger
}

// RetrySchedulerConfig wires the retry scheduler's collaborators.
type RetrySchedulerConfig struct {
	Queue      RetryQueue
	Emails     EmailStore
	Companies  CompanyStore
	Contacts   ContactLookup
	Attempts   AttemptStore
	Dispatcher *Dispatcher
	BatchSize  int
	Pacing     time.Duration
}

// NewRetryScheduler creates a retry scheduler.
func NewRetryScheduler(cfg RetrySchedulerConfig, logger *zap.Logger) *RetryScheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &RetryScheduler{
		queue:      cfg.Queue,
		emails:     cfg.Emails,
		companies:  cfg.Companies,
		contacts:   cfg.Contacts,
		attempts:   cfg.Attempts,
		dispatcher: cfg.Dispatcher,
		batchSize:  cfg.BatchSize,
		pacing:     cfg.Pacing,
		now:        time.Now,
		logger:     logger,
	}
}

// Run processes one batch of due retries. Overlapping invocations are
// collapsed: if a previous run is still in flight the call returns
// immediately.
func (s *RetryScheduler) Run(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Debug("retry run still in progress, skipping")
		return nil
	}
	defer s.busy.Store(false)

	due, err := s.queue.GetDueRetries(ctx, s.now(), s.batchSize)
	if err != nil {
		return fmt.Errorf("load due retries: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Info("retrying notifications", zap.Int("due", len(due)))

	for i, n := range due {
		if err := s.processOne(ctx, n); err != nil {
			s.logger.Warn("retry attempt errored",
				zap.String("notification_log_id", due[i].ID.String()),
				zap.Error(err),
			)
		}

		if s.pacing > 0 && i < len(due)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pacing):
			}
		}
	}
	return nil
}

func (s *RetryScheduler) processOne(ctx context.Context, n *db.NotificationLog) error {
	if n.RetryCount >= n.MaxRetries {
		return s.finalize(ctx, n)
	}

	email, err := s.emails.GetEmailLog(ctx, n.EmailLogID)
	if err != nil {
		return fmt.Errorf("load email log: %w", err)
	}
	company, err := s.companies.GetCompany(ctx, n.CompanyID)
	if err != nil {
		return fmt.Errorf("load company: %w", err)
	}
	contact, err := s.contacts.GetContact(ctx, n.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}

	metrics.RecordRetryAttempt()
	res := s.dispatcher.Resend(ctx, n, *company, *contact, email)
	return res.Err
}

// finalize marks a notification failed once its retry budget is spent.
// This is the only place the failed status is assigned.
func (s *RetryScheduler) finalize(ctx context.Context, n *db.NotificationLog) error {
	msg := "retry limit reached"
	err := s.attempts.UpdateState(ctx, n.ID, db.StatusFailed, n.RetryCount, &msg, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("finalize notification: %w", err)
	}

	metrics.RecordNotification(n.Channel, db.StatusFailed)
	s.logger.Warn("notification permanently failed",
		zap.String("notification_log_id", n.ID.String()),
		zap.String("channel", n.Channel),
		zap.String("recipient", n.Recipient),
		zap.Int("retry_count", n.RetryCount),
	)
	return nil
}
