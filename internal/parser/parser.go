// Package parser classifies inbound email as order-related and extracts
// a candidate sender identity. Everything here is a pure function of its
// inputs: no I/O, no clocks, no globals beyond the default keyword set.
package parser

import (
	"strings"
	"time"
)

// Input is one inbound message plus the tenant's keyword configuration.
type Input struct {
	Sender     string
	SenderName string
	Subject    string
	BodyText   string
	BodyHTML   string
	ReceivedAt time.Time

	// Keywords overrides DefaultKeywords when non-empty.
	Keywords []string
	// KeywordCheckDisabled makes every message order-related; matching
	// then relies solely on business identity.
	KeywordCheckDisabled bool
}

// Result is the classification outcome.
type Result struct {
	IsOrder         bool
	Confidence      float64
	MatchedKeywords []string
	GuessedName     string
	SenderDomain    string
}

// Classify decides whether a message looks like a purchase order and
// derives the best-guess business name from the sender.
func Classify(in Input) Result {
	res := Result{
		GuessedName:  guessBusinessName(in.SenderName, in.Sender),
		SenderDomain: senderDomain(in.Sender),
	}

	if in.KeywordCheckDisabled {
		res.IsOrder = true
		res.Confidence = 1.0
		return res
	}

	keywords := in.Keywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}

	text := searchableText(in)
	for _, kw := range keywords {
		if matchKeyword(text, kw) {
			res.MatchedKeywords = append(res.MatchedKeywords, kw)
		}
	}

	if len(res.MatchedKeywords) > 0 {
		res.IsOrder = true
		res.Confidence = float64(len(res.MatchedKeywords)) / float64(len(keywords))
	}

	return res
}

// searchableText joins the subject with the stripped body. The HTML body
// is only consulted when there is no plain-text alternative.
func searchableText(in Input) string {
	parts := []string{in.Subject}
	if in.BodyText != "" {
		parts = append(parts, collapseWhitespace(in.BodyText))
	} else if in.BodyHTML != "" {
		parts = append(parts, StripHTML(in.BodyHTML))
	}
	return strings.Join(parts, " ")
}

// guessBusinessName prefers the sender display name; with none present
// it falls back to the first label of the sender's mail domain
// ("orders@acme.co.kr" -> "acme").
func guessBusinessName(displayName, sender string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}

	domain := senderDomain(sender)
	if domain == "" {
		return ""
	}
	if i := strings.Index(domain, "."); i > 0 {
		return domain[:i]
	}
	return domain
}

func senderDomain(sender string) string {
	i := strings.LastIndex(sender, "@")
	if i < 0 || i == len(sender)-1 {
		return ""
	}
	return strings.ToLower(sender[i+1:])
}
