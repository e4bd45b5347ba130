package parser

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// DefaultKeywords is the stock order-keyword set used when a tenant has
// no override configured. Korean terms dominate because most tenants
// receive 발주/주문 mail; the English terms cover mixed-language senders.
var DefaultKeywords = []string{
	"발주",
	"발주서",
	"주문",
	"주문서",
	"구매요청",
	"오더",
	"order",
	"purchase order",
}

var (
	wordPatternMu sync.Mutex
	wordPatterns  = make(map[string]*regexp.Regexp)
)

// containsHangul reports whether any rune of s is a Hangul character.
func containsHangul(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

// matchKeyword checks one keyword against pre-stripped text. Keywords
// containing Hangul match by substring since Korean has no word
// boundaries the \b class understands; everything else matches as a
// whole word so "order" does not fire on "border".
func matchKeyword(text, keyword string) bool {
	if keyword == "" {
		return false
	}

	if containsHangul(keyword) {
		return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
	}

	return wordPattern(keyword).MatchString(text)
}

func wordPattern(keyword string) *regexp.Regexp {
	wordPatternMu.Lock()
	defer wordPatternMu.Unlock()

	if re, ok := wordPatterns[keyword]; ok {
		return re
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
	wordPatterns[keyword] = re
	return re
}
