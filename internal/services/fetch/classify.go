// internal/services/fetch/classify.go
package fetch

import (
	"strings"

	"github.com/puneetrinity/llmbackend1/internal/models"
)

var (
	newsDomains      = []string{"cnn.com", "bbc.com", "reuters.com", "ap.org", "npr.org", "news."}
	academicDomains  = []string{".edu", "scholar.google", "arxiv.org", "researchgate", "jstor"}
	academicKeywords = []string{"research", "study", "journal", "paper", "academic"}
	socialDomains    = []string{"twitter.com", "facebook.com", "linkedin.com", "reddit.com", "youtube.com"}
	ecommerceDomains = []string{"amazon.com", "ebay.com", "shop", "store", "buy"}

	navigationKeywords = []string{"home", "about", "contact", "menu", "navigation"}
)

// classifySourceType buckets a page by URL and title patterns.
func classifySourceType(rawURL, title string) models.SourceType {
	urlLower := strings.ToLower(rawURL)
	titleLower := strings.ToLower(title)

	if containsAny(urlLower, newsDomains) || strings.Contains(urlLower, "news") {
		return models.SourceTypeNews
	}
	if containsAny(urlLower, academicDomains) || containsAny(titleLower, academicKeywords) {
		return models.SourceTypeAcademic
	}
	if containsAny(urlLower, socialDomains) {
		return models.SourceTypeSocial
	}
	if containsAny(urlLower, ecommerceDomains) {
		return models.SourceTypeEcommerce
	}
	return models.SourceTypeGeneral
}

// contentConfidence rates extraction quality from simple structural signals.
func contentConfidence(content, title string) float64 {
	score := 0.5

	wordCount := len(strings.Fields(content))
	switch {
	case wordCount > 100:
		score += 0.2
	case wordCount > 50:
		score += 0.1
	}

	contentLower := strings.ToLower(content)
	terms := strings.Fields(strings.ToLower(title))
	if len(terms) > 0 {
		matched := 0
		for _, term := range terms {
			if strings.Contains(contentLower, term) {
				matched++
			}
		}
		if matched*2 > len(terms) {
			score += 0.1
		}
	}

	if strings.Contains(content, ".") && len(content) > 200 {
		score += 0.1
	}

	// A page that reads like a menu is probably not the article.
	navCount := 0
	for _, keyword := range navigationKeywords {
		if strings.Contains(contentLower, keyword) {
			navCount++
		}
	}
	if navCount > 3 {
		score -= 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
