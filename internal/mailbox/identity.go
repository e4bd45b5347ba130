package mailbox

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// fallbackBodyPrefix is how much of the body participates in the
// synthesized identity hash.
const fallbackBodyPrefix = 500

// Identity derives the stable deduplication key for a message. The
// transport Message-ID header wins when present; without one the
// identity is synthesized from tenant, sender, subject, date and a short
// hash of the leading body text, so repeated fetches of the same
// physical message converge on the same key.
//
// Two genuinely distinct messages from the same sender with the same
// subject, same day and near-identical leading body text collide on the
// fallback path and get deduplicated as one. Known trade-off; callers
// must not "fix" it without changing observable dedup behavior.
func Identity(tenantID uuid.UUID, m Message) string {
	if id := strings.Trim(strings.TrimSpace(m.MessageID), "<>"); id != "" {
		return id
	}

	body := m.BodyText
	if body == "" {
		body = m.BodyHTML
	}
	runes := []rune(body)
	if len(runes) > fallbackBodyPrefix {
		runes = runes[:fallbackBodyPrefix]
	}
	sum := sha256.Sum256([]byte(string(runes)))

	return fmt.Sprintf("fallback:%s:%s:%s:%s:%x",
		tenantID,
		strings.ToLower(m.Sender),
		m.Subject,
		m.Date.Format("2006-01-02"),
		sum[:8],
	)
}
