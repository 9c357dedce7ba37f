// internal/services/fetch/extract.go
package fetch

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Content containers tried in order before falling back to the whole body.
var contentSelectors = []string{
	"main",
	"article",
	"[role=main]",
	".content",
	"#content",
	".post-content",
	".entry-content",
	".article-content",
}

// Boilerplate phrases stripped up to the next sentence boundary.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)cookie\s+policy[^.]*`),
	regexp.MustCompile(`(?i)privacy\s+policy[^.]*`),
	regexp.MustCompile(`(?i)terms\s+of\s+service[^.]*`),
	regexp.MustCompile(`(?i)subscribe\s+to[^.]*`),
	regexp.MustCompile(`(?i)newsletter\s+sign[\s-]?up[^.]*`),
	regexp.MustCompile(`(?i)follow\s+us[^.]*`),
	regexp.MustCompile(`(?i)share\s+this[^.]*`),
}

// extractReadableText parses the page and returns its title and the text of
// its main content area, with chrome elements removed.
func extractReadableText(page string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", ""
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, nav, header, footer, aside").Remove()

	var content *goquery.Selection
	for _, selector := range contentSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			content = sel.First()
			break
		}
	}
	if content == nil {
		content = doc.Find("body").First()
	}
	return title, collapseWhitespace(content.Text())
}

// cleanContent collapses whitespace and strips boilerplate phrases.
func cleanContent(text string) string {
	text = collapseWhitespace(text)
	for _, pattern := range boilerplatePatterns {
		text = pattern.ReplaceAllString(text, "")
	}
	return collapseWhitespace(text)
}

// truncateContent cuts text to at most max bytes on a rune boundary,
// appending an ellipsis. Reports whether a cut happened.
func truncateContent(text string, max int) (string, bool) {
	if max <= 0 || len(text) <= max {
		return text, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "...", true
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
