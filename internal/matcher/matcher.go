// Package matcher resolves a classified message to a registered company.
package matcher

import (
	"errors"
	"strings"

	"github.com/hpark-dev/ordernoti/internal/db"
	"github.com/hpark-dev/ordernoti/internal/parser"
)

// ErrNoMatch means no company could be resolved for the message. It is
// informational, not a fault: the message is logged as unmatched and
// processing stops.
var ErrNoMatch = errors.New("no matching company")

// Resolve finds the company a message belongs to. Resolution order,
// first hit wins:
//  1. exact sender-email match
//  2. sender-domain match
//  3. exact company-name match against the guessed name
//  4. case-insensitive substring match of the guessed name
//
// companies must already be filtered to the tenant's active records.
func Resolve(sender string, parsed parser.Result, companies []db.Company) (*db.Company, error) {
	sender = strings.ToLower(strings.TrimSpace(sender))

	for i := range companies {
		if strings.ToLower(companies[i].Email) == sender && sender != "" {
			return &companies[i], nil
		}
	}

	if parsed.SenderDomain != "" {
		suffix := "@" + parsed.SenderDomain
		for i := range companies {
			if strings.HasSuffix(strings.ToLower(companies[i].Email), suffix) {
				return &companies[i], nil
			}
		}
	}

	guessed := strings.TrimSpace(parsed.GuessedName)
	if guessed != "" {
		for i := range companies {
			if companies[i].Name == guessed {
				return &companies[i], nil
			}
		}

		lowered := strings.ToLower(guessed)
		for i := range companies {
			if strings.Contains(strings.ToLower(companies[i].Name), lowered) {
				return &companies[i], nil
			}
		}
	}

	return nil, ErrNoMatch
}
