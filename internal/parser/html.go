package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripHTML reduces an HTML body to its visible text. Tags, <style> and
// <script> content are removed and whitespace is collapsed, so keyword
// search cannot false-positive on attribute text like border="0".
func StripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return collapseWhitespace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		// Undecodable markup: fall back to the raw text rather than
		// dropping the message.
		return collapseWhitespace(s)
	}

	doc.Find("style, script").Remove()

	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
