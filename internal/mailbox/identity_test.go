package mailbox

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIdentity_UsesMessageID(t *testing.T) {
	tenant := uuid.New()
	m := Message{MessageID: "<abc-123@mail.hansung.co.kr>", Sender: "a@b.com"}

	got := Identity(tenant, m)
	if got != "abc-123@mail.hansung.co.kr" {
		t.Fatalf("got %q", got)
	}
}

func TestIdentity_FallbackStable(t *testing.T) {
	tenant := uuid.New()
	date := time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)
	m := Message{
		Sender:   "Orders@Hansung.co.kr",
		Subject:  "6월 발주서",
		Date:     date,
		BodyText: "발주 내역입니다.",
	}

	first := Identity(tenant, m)
	second := Identity(tenant, m)
	if first != second {
		t.Fatalf("identity not stable: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "fallback:") {
		t.Fatalf("got %q", first)
	}
}

func TestIdentity_FallbackDiffersAcrossTenants(t *testing.T) {
	m := Message{Sender: "a@b.com", Subject: "발주", Date: time.Now(), BodyText: "x"}

	if Identity(uuid.New(), m) == Identity(uuid.New(), m) {
		t.Fatal("fallback identity must be tenant-scoped")
	}
}

func TestIdentity_FallbackIgnoresBodyBeyondPrefix(t *testing.T) {
	tenant := uuid.New()
	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	prefix := strings.Repeat("가", fallbackBodyPrefix)

	a := Message{Sender: "a@b.com", Subject: "발주", Date: date, BodyText: prefix + "tail-one"}
	b := Message{Sender: "a@b.com", Subject: "발주", Date: date, BodyText: prefix + "tail-two"}

	if Identity(tenant, a) != Identity(tenant, b) {
		t.Fatal("bytes past the prefix must not change the identity")
	}
}

func TestIdentity_FallbackUsesHTMLWhenNoText(t *testing.T) {
	tenant := uuid.New()
	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	a := Message{Sender: "a@b.com", Subject: "발주", Date: date, BodyHTML: "<p>one</p>"}
	b := Message{Sender: "a@b.com", Subject: "발주", Date: date, BodyHTML: "<p>two</p>"}

	if Identity(tenant, a) == Identity(tenant, b) {
		t.Fatal("HTML body must participate in the fallback hash")
	}
}
