package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/db"
	"github.com/hpark-dev/ordernoti/internal/matcher"
	"github.com/hpark-dev/ordernoti/internal/metrics"
	"github.com/hpark-dev/ordernoti/internal/notify"
	"github.com/hpark-dev/ordernoti/internal/parser"
)

// AccountStore loads tenant mail accounts and their matching data.
type AccountStore interface {
	ListEnabledMailAccounts(ctx context.Context) ([]db.MailAccount, error)
	ListActiveCompanies(ctx context.Context, tenantID uuid.UUID) ([]db.Company, error)
	ListNotificationAddresses(ctx context.Context, tenantID uuid.UUID) ([]string, error)
}

// Ledger is the email de-duplication record.
type Ledger interface {
	FindByIdentity(ctx context.Context, tenantID uuid.UUID, identity string) (*db.LedgerEntry, error)
	Insert(ctx context.Context, e *db.EmailLog) (*db.EmailLog, error)
}

// OrderDispatcher fans a matched message out to its recipients.
type OrderDispatcher interface {
	Dispatch(ctx context.Context, company db.Company, email *db.EmailLog) (notify.DispatchResult, error)
}

// UsageMeter records billable email processing.
type UsageMeter interface {
	RecordEmailProcessed(ctx context.Context, tenantID uuid.UUID)
}

// TenantResult summarizes one tenant's poll cycle.
type TenantResult struct {
	TenantID  uuid.UUID
	Fetched   int
	Processed int
	Notified  int
	Unmatched int
	Skipped   int
}

// Poller runs the inbound mail check across all enabled tenant accounts.
type Poller struct {
	accounts   AccountStore
	ledger     Ledger
	dialer     Dialer
	dispatcher OrderDispatcher
	usage      UsageMeter
	addrCache  *AddressCache
	maxAttach  int
	loc        *time.Location
	now        func() time.Time
	busy       atomic.Bool
	logger     *zap.Logger
}

// PollerConfig wires the poller's collaborators.
type PollerConfig struct {
	Accounts        AccountStore
	Ledger          Ledger
	Dialer          Dialer
	Dispatcher      OrderDispatcher
	Usage           UsageMeter
	AddressCacheTTL time.Duration
	MaxAttachBytes  int
}

// NewPoller creates a mail poller. Search windows are anchored to the
// start of the current day in Korea Standard Time.
func NewPoller(cfg PollerConfig, logger *zap.Logger) (*Poller, error) {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	return &Poller{
		accounts:   cfg.Accounts,
		ledger:     cfg.Ledger,
		dialer:     cfg.Dialer,
		dispatcher: cfg.Dispatcher,
		usage:      cfg.Usage,
		addrCache:  NewAddressCache(cfg.AddressCacheTTL),
		maxAttach:  cfg.MaxAttachBytes,
		loc:        loc,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// Run polls every enabled account once. Tenants are isolated: one
// tenant's mailbox failure never blocks the others. Overlapping
// invocations are collapsed.
func (p *Poller) Run(ctx context.Context) error {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.Debug("mail check still in progress, skipping")
		return nil
	}
	defer p.busy.Store(false)

	accounts, err := p.accounts.ListEnabledMailAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list mail accounts: %w", err)
	}

	for _, acct := range accounts {
		if !acct.Configured() {
			p.logger.Warn("mail account missing connection settings, skipping",
				zap.String("tenant_id", acct.TenantID.String()))
			continue
		}

		res, err := p.pollAccount(ctx, acct)
		if err != nil {
			p.logger.Error("tenant poll failed",
				zap.String("tenant_id", acct.TenantID.String()),
				zap.String("host", acct.Host),
				zap.Error(err),
			)
		} else if res.Fetched > 0 {
			p.logger.Info("tenant poll complete",
				zap.String("tenant_id", res.TenantID.String()),
				zap.Int("fetched", res.Fetched),
				zap.Int("processed", res.Processed),
				zap.Int("notified", res.Notified),
				zap.Int("unmatched", res.Unmatched),
				zap.Int("skipped", res.Skipped),
			)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (p *Poller) pollAccount(ctx context.Context, acct db.MailAccount) (TenantResult, error) {
	res := TenantResult{TenantID: acct.TenantID}

	start := p.now()
	defer func() { metrics.RecordPollDuration(acct.TenantID.String(), time.Since(start)) }()

	addrs, err := p.watchedAddresses(ctx, acct.TenantID)
	if err != nil {
		return res, err
	}
	if len(addrs) == 0 {
		return res, nil
	}

	companies, err := p.accounts.ListActiveCompanies(ctx, acct.TenantID)
	if err != nil {
		return res, fmt.Errorf("list companies: %w", err)
	}

	sess, err := p.dialer.Dial(ctx, acct)
	if err != nil {
		return res, fmt.Errorf("dial mailbox: %w", err)
	}
	defer sess.Close()

	uids, err := p.searchAll(sess, addrs)
	if err != nil {
		return res, err
	}
	if len(uids) == 0 {
		return res, nil
	}

	msgs, err := sess.Fetch(uids)
	if err != nil {
		return res, fmt.Errorf("fetch messages: %w", err)
	}
	res.Fetched = len(msgs)

	for _, m := range msgs {
		p.processMessage(ctx, acct, companies, sess, m, &res)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
	return res, nil
}

func (p *Poller) watchedAddresses(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	if addrs, ok := p.addrCache.Get(tenantID); ok {
		return addrs, nil
	}
	addrs, err := p.accounts.ListNotificationAddresses(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list notification addresses: %w", err)
	}
	p.addrCache.Put(tenantID, addrs)
	return addrs, nil
}

// searchAll issues one unseen-since search per watched address and
// merges the UID sets. The window starts at midnight KST so a message
// arriving just before a restart is still picked up.
func (p *Poller) searchAll(sess Session, addrs []string) ([]uint32, error) {
	local := p.now().In(p.loc)
	since := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)

	seen := make(map[uint32]struct{})
	var uids []uint32
	for _, addr := range addrs {
		found, err := sess.SearchSince(addr, since)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", addr, err)
		}
		for _, uid := range found {
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

// processMessage runs one message through dedup, classification,
// matching, and dispatch. Failures are logged per message; the rest of
// the batch continues.
func (p *Poller) processMessage(ctx context.Context, acct db.MailAccount, companies []db.Company, sess Session, m Message, res *TenantResult) {
	log := p.logger.With(
		zap.String("tenant_id", acct.TenantID.String()),
		zap.Uint32("uid", m.UID),
	)

	if m.ParseErr != nil {
		log.Warn("message body unreadable, skipping", zap.Error(m.ParseErr))
		res.Skipped++
		p.markSeen(acct, sess, m, log)
		return
	}

	identity := Identity(acct.TenantID, m)
	entry, err := p.ledger.FindByIdentity(ctx, acct.TenantID, identity)
	if err != nil {
		log.Error("ledger lookup failed", zap.Error(err))
		return
	}

	var email *db.EmailLog
	if entry != nil {
		if entry.HasSuccessfulNotification {
			res.Skipped++
			p.markSeen(acct, sess, m, log)
			return
		}
		// Known message with no successful delivery yet: re-enter
		// dispatch against the existing record.
		email = entry.Email
	} else {
		email = p.classifyAndRecord(ctx, acct, companies, m, identity, log, res)
		if email == nil {
			p.markSeen(acct, sess, m, log)
			return
		}
	}

	company := findCompany(companies, email.CompanyID)
	if company == nil {
		log.Warn("matched company no longer active, skipping",
			zap.String("email_log_id", email.ID.String()))
		res.Skipped++
		p.markSeen(acct, sess, m, log)
		return
	}

	dres, err := p.dispatcher.Dispatch(ctx, *company, email)
	if err != nil {
		log.Error("dispatch failed", zap.String("email_log_id", email.ID.String()), zap.Error(err))
		return
	}
	res.Notified += dres.Sent

	p.markSeen(acct, sess, m, log)
}

// classifyAndRecord returns the inserted email log for an order message,
// or nil when the message should be dropped (not an order, or no
// company match).
func (p *Poller) classifyAndRecord(ctx context.Context, acct db.MailAccount, companies []db.Company, m Message, identity string, log *zap.Logger, res *TenantResult) *db.EmailLog {
	parsed := parser.Classify(parser.Input{
		Sender:               m.Sender,
		SenderName:           m.SenderName,
		Subject:              m.Subject,
		BodyText:             m.BodyText,
		BodyHTML:             m.BodyHTML,
		ReceivedAt:           m.Date,
		Keywords:             acct.OrderKeywords,
		KeywordCheckDisabled: acct.KeywordCheckDisabled,
	})
	if !parsed.IsOrder {
		res.Skipped++
		return nil
	}

	company, err := matcher.Resolve(m.Sender, parsed, companies)
	if err != nil {
		if errors.Is(err, matcher.ErrNoMatch) {
			log.Info("order-like message from unknown sender",
				zap.String("sender", m.Sender),
				zap.String("guessed_name", parsed.GuessedName),
			)
			metrics.RecordUnmatched(acct.TenantID.String())
			res.Unmatched++
			return nil
		}
		log.Error("company match failed", zap.Error(err))
		return nil
	}

	email := &db.EmailLog{
		TenantID:        acct.TenantID,
		MessageIdentity: identity,
		Sender:          m.Sender,
		SenderName:      m.SenderName,
		Subject:         m.Subject,
		ReceivedAt:      m.Date,
		BodyText:        m.BodyText,
		BodyHTML:        m.BodyHTML,
		Attachments:     p.attachmentMeta(m.Attachments),
		MatchStatus:     db.MatchStatusMatched,
		CompanyID:       &company.ID,
	}

	inserted, err := p.ledger.Insert(ctx, email)
	if err != nil {
		log.Error("email log insert failed", zap.Error(err))
		return nil
	}

	if p.usage != nil {
		p.usage.RecordEmailProcessed(ctx, acct.TenantID)
	}
	metrics.RecordEmailProcessed(acct.TenantID.String())
	res.Processed++

	log.Info("order email recorded",
		zap.String("email_log_id", inserted.ID.String()),
		zap.String("company", company.Name),
		zap.Strings("keywords", parsed.MatchedKeywords),
	)
	return inserted
}

// attachmentMeta converts fetched attachments, inlining payloads only up
// to the configured size ceiling.
func (p *Poller) attachmentMeta(attachments []Attachment) []db.AttachmentMeta {
	if len(attachments) == 0 {
		return nil
	}
	metas := make([]db.AttachmentMeta, 0, len(attachments))
	for _, a := range attachments {
		meta := db.AttachmentMeta{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        len(a.Data),
		}
		if p.maxAttach > 0 && len(a.Data) <= p.maxAttach {
			meta.Data = base64.StdEncoding.EncodeToString(a.Data)
		}
		metas = append(metas, meta)
	}
	return metas
}

func (p *Poller) markSeen(acct db.MailAccount, sess Session, m Message, log *zap.Logger) {
	if !acct.AutoMarkRead {
		return
	}
	if err := sess.MarkSeen(m.UID); err != nil {
		log.Warn("mark seen failed", zap.Error(err))
	}
}

func findCompany(companies []db.Company, id *uuid.UUID) *db.Company {
	if id == nil {
		return nil
	}
	for i := range companies {
		if companies[i].ID == *id {
			return &companies[i]
		}
	}
	return nil
}
