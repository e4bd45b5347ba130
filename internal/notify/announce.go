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

// AnnouncementStore is the persistence surface of the batch sender.
type AnnouncementStore interface {
	GetDue(ctx context.Context, now time.Time) ([]*db.Announcement, error)
	GetStatus(ctx context.Context, id uuid.UUID) (string, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	MaterializeRecipients(ctx context.Context, a *db.Announcement) (int, error)
	GetPendingRecipients(ctx context.Context, announcementID uuid.UUID, limit int) ([]*db.AnnouncementRecipient, error)
	UpdateRecipientStatus(ctx context.Context, id uuid.UUID, status string, errorMsg *string, sentAt *time.Time) error
	IncrementCounters(ctx context.Context, id uuid.UUID, sent, failed int) error
}

// AnnouncementSender drives scheduled announcements through their
// recipient batches.
type AnnouncementSender struct {
	store     AnnouncementStore
	templates *TemplateEngine
	sender    ChannelSender
	usage     Usage
	batchSize int
	pacing    time.Duration
	now       func() time.Time
	busy      atomic.Bool
	logger    *zap.Logger
}

// AnnouncementSenderConfig wires the batch sender's collaborators.
type AnnouncementSenderConfig struct {
	Store     AnnouncementStore
	Templates *TemplateEngine
	Sender    ChannelSender
	Usage     Usage
	BatchSize int
	Pacing    time.Duration
}

// NewAnnouncementSender creates an announcement batch sender.
func NewAnnouncementSender(cfg AnnouncementSenderConfig, logger *zap.Logger) *AnnouncementSender {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &AnnouncementSender{
		store:     cfg.Store,
		templates: cfg.Templates,
		sender:    cfg.Sender,
		usage:     cfg.Usage,
		batchSize: cfg.BatchSize,
		pacing:    cfg.Pacing,
		now:       time.Now,
		logger:    logger,
	}
}

// Run claims and processes every announcement whose scheduled time has
// arrived. Overlapping invocations are collapsed.
func (s *AnnouncementSender) Run(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Debug("announcement run still in progress, skipping")
		return nil
	}
	defer s.busy.Store(false)

	due, err := s.store.GetDue(ctx, s.now())
	if err != nil {
		return fmt.Errorf("load due announcements: %w", err)
	}

	for _, a := range due {
		if err := s.process(ctx, a); err != nil {
			s.logger.Error("announcement processing failed",
				zap.String("announcement_id", a.ID.String()),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (s *AnnouncementSender) process(ctx context.Context, a *db.Announcement) error {
	// The scheduled->sending transition is the claim; losing it means
	// another worker, or an operator cancel, got there first.
	claimed, err := s.store.TransitionStatus(ctx, a.ID, db.AnnouncementScheduled, db.AnnouncementSending)
	if err != nil {
		return fmt.Errorf("claim announcement: %w", err)
	}
	if !claimed {
		s.logger.Debug("announcement no longer scheduled, skipping",
			zap.String("announcement_id", a.ID.String()))
		return nil
	}

	total, err := s.store.MaterializeRecipients(ctx, a)
	if err != nil {
		return fmt.Errorf("materialize recipients: %w", err)
	}

	s.logger.Info("announcement started",
		zap.String("announcement_id", a.ID.String()),
		zap.String("title", a.Title),
		zap.String("channel", a.Channel),
		zap.Int("recipients", total),
	)

	content, err := s.templates.Resolve(ctx, a.TenantID, "announcement", a.Channel)
	if err != nil {
		return fmt.Errorf("resolve announcement template: %w", err)
	}
	body := Render(content, map[string]string{
		"title":   a.Title,
		"content": a.Content,
	})

	for {
		// Cancellation is honored between batches: an operator flipping
		// the status away from sending stops the run with already-sent
		// messages left as they are.
		status, err := s.store.GetStatus(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("check announcement status: %w", err)
		}
		if status != db.AnnouncementSending {
			s.logger.Info("announcement no longer sending, stopping",
				zap.String("announcement_id", a.ID.String()),
				zap.String("status", status))
			return nil
		}

		batch, err := s.store.GetPendingRecipients(ctx, a.ID, s.batchSize)
		if err != nil {
			return fmt.Errorf("load pending recipients: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		sent, failed := s.sendBatch(ctx, a, body, batch)
		if err := s.store.IncrementCounters(ctx, a.ID, sent, failed); err != nil {
			return fmt.Errorf("update announcement counters: %w", err)
		}

		if s.pacing > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pacing):
			}
		}
	}

	done, err := s.store.TransitionStatus(ctx, a.ID, db.AnnouncementSending, db.AnnouncementCompleted)
	if err != nil {
		return fmt.Errorf("complete announcement: %w", err)
	}
	if done {
		s.logger.Info("announcement completed",
			zap.String("announcement_id", a.ID.String()))
	}
	return nil
}

func (s *AnnouncementSender) sendBatch(ctx context.Context, a *db.Announcement, body string, batch []*db.AnnouncementRecipient) (sent, failed int) {
	for _, r := range batch {
		_, sendErr := s.sender.Send(ctx, Outbound{
			TenantID:  a.TenantID,
			Channel:   a.Channel,
			Recipient: r.Phone,
			Content:   body,
			Ref:       r.ID.String(),
		})

		now := s.now()
		if sendErr != nil {
			msg := sendErr.Error()
			if err := s.store.UpdateRecipientStatus(ctx, r.ID, db.AnnouncementFailed, &msg, nil); err != nil {
				s.logger.Warn("recipient status update failed",
					zap.String("recipient_id", r.ID.String()), zap.Error(err))
			}
			metrics.RecordAnnouncementMessage(db.AnnouncementFailed)
			failed++
			continue
		}

		if err := s.store.UpdateRecipientStatus(ctx, r.ID, db.StatusSent, nil, &now); err != nil {
			s.logger.Warn("recipient status update failed",
				zap.String("recipient_id", r.ID.String()), zap.Error(err))
		}
		metrics.RecordAnnouncementMessage(db.StatusSent)
		if s.usage != nil {
			s.usage.RecordNotificationSent(ctx, a.TenantID)
		}
		sent++
	}
	return sent, failed
}
