package catalog

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SanitizeText parses s as an HTML fragment and keeps only its text content,
// dropping markup and executable elements.
func SanitizeText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return ""
	}
	doc.Find("script, style, iframe, object, embed, noscript, template").Remove()
	return strings.TrimSpace(doc.Text())
}

// SanitizeTag returns the lower-cased text of a classification label.
func SanitizeTag(s string) string {
	return strings.ToLower(SanitizeText(s))
}

// SanitizeTags sanitizes every tag, preserving order and removing tags that
// end up empty.
func SanitizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if clean := SanitizeTag(tag); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}
