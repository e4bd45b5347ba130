package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpark-dev/ordernoti/internal/db"
	"github.com/hpark-dev/ordernoti/internal/notify"
)

type fakeAccountStore struct {
	accounts  []db.MailAccount
	companies []db.Company
	addrs     []string
	addrCalls int
}

func (f *fakeAccountStore) ListEnabledMailAccounts(ctx context.Context) ([]db.MailAccount, error) {
	return f.accounts, nil
}

func (f *fakeAccountStore) ListActiveCompanies(ctx context.Context, tenantID uuid.UUID) ([]db.Company, error) {
	return f.companies, nil
}

func (f *fakeAccountStore) ListNotificationAddresses(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	f.addrCalls++
	return f.addrs, nil
}

type fakeLedger struct {
	entries  map[string]*db.LedgerEntry
	inserted []*db.EmailLog
}

func (f *fakeLedger) FindByIdentity(ctx context.Context, tenantID uuid.UUID, identity string) (*db.LedgerEntry, error) {
	return f.entries[identity], nil
}

func (f *fakeLedger) Insert(ctx context.Context, e *db.EmailLog) (*db.EmailLog, error) {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	f.inserted = append(f.inserted, e)
	return e, nil
}

type fakeSession struct {
	uids        map[string][]uint32
	messages    []Message
	seen        []uint32
	closed      bool
	searchCalls int
}

func (f *fakeSession) SearchSince(addr string, since time.Time) ([]uint32, error) {
	f.searchCalls++
	return f.uids[addr], nil
}

func (f *fakeSession) Fetch(uids []uint32) ([]Message, error) {
	var out []Message
	want := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		want[uid] = true
	}
	for _, m := range f.messages {
		if want[m.UID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSession) MarkSeen(uid uint32) error {
	f.seen = append(f.seen, uid)
	return nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeDialer struct {
	sessions map[uuid.UUID]*fakeSession
	dialErr  map[uuid.UUID]error
}

func (f *fakeDialer) Dial(ctx context.Context, acct db.MailAccount) (Session, error) {
	if err := f.dialErr[acct.TenantID]; err != nil {
		return nil, err
	}
	return f.sessions[acct.TenantID], nil
}

type fakeDispatcher struct {
	dispatched []*db.EmailLog
	result     notify.DispatchResult
	err        error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, company db.Company, email *db.EmailLog) (notify.DispatchResult, error) {
	f.dispatched = append(f.dispatched, email)
	return f.result, f.err
}

type fakeUsage struct {
	emails int
}

func (f *fakeUsage) RecordEmailProcessed(ctx context.Context, tenantID uuid.UUID) {
	f.emails++
}

type pollerFixture struct {
	poller     *Poller
	store      *fakeAccountStore
	ledger     *fakeLedger
	session    *fakeSession
	dispatcher *fakeDispatcher
	usage      *fakeUsage
	tenant     uuid.UUID
	company    db.Company
}

func newPollerFixture(t *testing.T, msgs []Message) *pollerFixture {
	t.Helper()

	tenant := uuid.New()
	company := db.Company{
		ID:       uuid.New(),
		TenantID: tenant,
		Name:     "한성물산",
		Email:    "orders@hansung.co.kr",
		Active:   true,
	}

	store := &fakeAccountStore{
		accounts: []db.MailAccount{{
			ID:           uuid.New(),
			TenantID:     tenant,
			Host:         "imap.example.com",
			Port:         993,
			Username:     "inbox@tenant.kr",
			Password:     "secret",
			UseTLS:       true,
			Enabled:      true,
			AutoMarkRead: true,
		}},
		companies: []db.Company{company},
		addrs:     []string{"orders@hansung.co.kr"},
	}

	uids := make([]uint32, 0, len(msgs))
	for _, m := range msgs {
		uids = append(uids, m.UID)
	}
	session := &fakeSession{
		uids:     map[string][]uint32{"orders@hansung.co.kr": uids},
		messages: msgs,
	}

	ledger := &fakeLedger{entries: map[string]*db.LedgerEntry{}}
	dispatcher := &fakeDispatcher{result: notify.DispatchResult{Sent: 1}}
	usage := &fakeUsage{}

	poller, err := NewPoller(PollerConfig{
		Accounts:        store,
		Ledger:          ledger,
		Dialer:          &fakeDialer{sessions: map[uuid.UUID]*fakeSession{tenant: session}},
		Dispatcher:      dispatcher,
		Usage:           usage,
		AddressCacheTTL: time.Minute,
		MaxAttachBytes:  1024,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}

	return &pollerFixture{
		poller:     poller,
		store:      store,
		ledger:     ledger,
		session:    session,
		dispatcher: dispatcher,
		usage:      usage,
		tenant:     tenant,
		company:    company,
	}
}

func orderMessage(uid uint32) Message {
	return Message{
		UID:        uid,
		MessageID:  uuid.NewString() + "@mail.hansung.co.kr",
		Sender:     "orders@hansung.co.kr",
		SenderName: "한성물산",
		Subject:    "6월 발주서 송부",
		Date:       time.Now(),
		BodyText:   "발주 내역 첨부드립니다.",
	}
}

func TestPoller_OrderEmailFlow(t *testing.T) {
	fx := newPollerFixture(t, []Message{orderMessage(1)})

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 1 {
		t.Fatalf("inserted = %d", len(fx.ledger.inserted))
	}
	e := fx.ledger.inserted[0]
	if e.MatchStatus != db.MatchStatusMatched {
		t.Fatalf("match status = %s", e.MatchStatus)
	}
	if e.CompanyID == nil || *e.CompanyID != fx.company.ID {
		t.Fatal("company not recorded")
	}
	if len(fx.dispatcher.dispatched) != 1 {
		t.Fatalf("dispatched = %d", len(fx.dispatcher.dispatched))
	}
	if fx.usage.emails != 1 {
		t.Fatalf("usage emails = %d", fx.usage.emails)
	}
	if len(fx.session.seen) != 1 || fx.session.seen[0] != 1 {
		t.Fatalf("seen = %v", fx.session.seen)
	}
	if !fx.session.closed {
		t.Fatal("session not closed")
	}
}

func TestPoller_DuplicateWithSuccessfulNotificationSkipped(t *testing.T) {
	m := orderMessage(2)
	fx := newPollerFixture(t, []Message{m})

	identity := Identity(fx.tenant, m)
	fx.ledger.entries[identity] = &db.LedgerEntry{
		Email: &db.EmailLog{
			ID:        uuid.New(),
			TenantID:  fx.tenant,
			CompanyID: &fx.company.ID,
		},
		HasSuccessfulNotification: true,
	}

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 0 {
		t.Fatal("duplicate must not be re-inserted")
	}
	if len(fx.dispatcher.dispatched) != 0 {
		t.Fatal("duplicate with success must not re-dispatch")
	}
	if len(fx.session.seen) != 1 {
		t.Fatalf("seen = %v", fx.session.seen)
	}
}

func TestPoller_DuplicateWithoutSuccessRedispatches(t *testing.T) {
	m := orderMessage(3)
	fx := newPollerFixture(t, []Message{m})

	existingID := uuid.New()
	identity := Identity(fx.tenant, m)
	fx.ledger.entries[identity] = &db.LedgerEntry{
		Email: &db.EmailLog{
			ID:        existingID,
			TenantID:  fx.tenant,
			CompanyID: &fx.company.ID,
		},
		HasSuccessfulNotification: false,
	}

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 0 {
		t.Fatal("existing record must be reused, not re-inserted")
	}
	if len(fx.dispatcher.dispatched) != 1 {
		t.Fatalf("dispatched = %d", len(fx.dispatcher.dispatched))
	}
	if fx.dispatcher.dispatched[0].ID != existingID {
		t.Fatal("dispatch must target the existing email log")
	}
}

func TestPoller_NonOrderSkipped(t *testing.T) {
	m := orderMessage(4)
	m.Subject = "안녕하세요"
	m.BodyText = "일반 문의입니다"
	fx := newPollerFixture(t, []Message{m})

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 0 {
		t.Fatal("non-order must not be persisted")
	}
	if len(fx.dispatcher.dispatched) != 0 {
		t.Fatal("non-order must not dispatch")
	}
}

func TestPoller_UnmatchedSenderNotPersisted(t *testing.T) {
	m := orderMessage(5)
	m.Sender = "stranger@unknown.com"
	m.SenderName = "낯선회사"
	fx := newPollerFixture(t, []Message{m})

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 0 {
		t.Fatal("unmatched message must not be persisted")
	}
	if len(fx.dispatcher.dispatched) != 0 {
		t.Fatal("unmatched message must not dispatch")
	}
}

func TestPoller_ParseErrorSkippedAndMarkedSeen(t *testing.T) {
	m := orderMessage(6)
	m.ParseErr = errors.New("bad mime")
	fx := newPollerFixture(t, []Message{m})

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 0 {
		t.Fatal("unreadable message must not be persisted")
	}
	if len(fx.session.seen) != 1 {
		t.Fatal("unreadable message must still be marked seen")
	}
}

func TestPoller_AttachmentCeiling(t *testing.T) {
	m := orderMessage(7)
	m.Attachments = []Attachment{
		{Filename: "small.pdf", ContentType: "application/pdf", Data: []byte("tiny")},
		{Filename: "big.xlsx", ContentType: "application/vnd.ms-excel", Data: make([]byte, 4096)},
	}
	fx := newPollerFixture(t, []Message{m})

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 1 {
		t.Fatalf("inserted = %d", len(fx.ledger.inserted))
	}
	atts := fx.ledger.inserted[0].Attachments
	if len(atts) != 2 {
		t.Fatalf("attachments = %d", len(atts))
	}
	if atts[0].Data != base64.StdEncoding.EncodeToString([]byte("tiny")) {
		t.Fatal("small attachment must be inlined")
	}
	if atts[1].Data != "" {
		t.Fatal("oversized attachment must keep metadata only")
	}
	if atts[1].Size != 4096 {
		t.Fatalf("size = %d", atts[1].Size)
	}
}

func TestPoller_UIDsDedupedAcrossAddresses(t *testing.T) {
	fx := newPollerFixture(t, []Message{orderMessage(8)})
	fx.store.addrs = []string{"orders@hansung.co.kr", "alias@hansung.co.kr"}
	fx.session.uids["alias@hansung.co.kr"] = []uint32{8}

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 1 {
		t.Fatalf("inserted = %d, UID reported by two searches must process once", len(fx.ledger.inserted))
	}
}

func TestPoller_AddressCacheSavesLookups(t *testing.T) {
	fx := newPollerFixture(t, nil)

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if fx.store.addrCalls != 1 {
		t.Fatalf("addrCalls = %d, second run should hit the cache", fx.store.addrCalls)
	}
}

func TestPoller_TenantFailureIsolated(t *testing.T) {
	fx := newPollerFixture(t, []Message{orderMessage(9)})

	badTenant := uuid.New()
	fx.store.accounts = append([]db.MailAccount{{
		ID:       uuid.New(),
		TenantID: badTenant,
		Host:     "imap.dead.example",
		Port:     993,
		Username: "x",
		Password: "y",
		Enabled:  true,
	}}, fx.store.accounts...)

	dialer := fx.poller.dialer.(*fakeDialer)
	dialer.dialErr = map[uuid.UUID]error{badTenant: errors.New("connection refused")}

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 1 {
		t.Fatal("healthy tenant must still be processed")
	}
}

func TestPoller_UnconfiguredAccountSkipped(t *testing.T) {
	fx := newPollerFixture(t, []Message{orderMessage(10)})
	fx.store.accounts[0].Password = ""

	if err := fx.poller.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.ledger.inserted) != 0 {
		t.Fatal("unconfigured account must be skipped")
	}
}
