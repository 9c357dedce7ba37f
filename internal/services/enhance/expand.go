// internal/services/enhance/expand.go
package enhance

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	maxSemanticExpansions = 2
)

var domainExpansionRules = []struct {
	keywords []string
	suffix   string
}{
	{keywords: []string{"api", "code", "programming", "software", "algorithm", "tech"}, suffix: "programming guide"},
	{keywords: []string{"business", "strategy", "market", "company", "revenue"}, suffix: "analysis"},
	{keywords: []string{"research", "study", "analysis", "theory", "academic"}, suffix: "research paper"},
	{keywords: []string{"health", "medical", "disease", "treatment", "symptoms"}, suffix: "medical information"},
}

var (
	yearPattern      = regexp.MustCompile(`\b20\d\d\b`)
	temporalMarkers  = []string{"recent", "latest", "current", "now", "today"}
	temporalTriggers = []string{"trends", "news", "updates", "development", "technology"}
)

// semanticExpansions rephrases the query as a question or how-to. Questions
// are left alone; multi-word queries also get a broader form and a guide
// variant, though the cap usually keeps only the first two.
func semanticExpansions(query string) []string {
	var expansions []string

	if !strings.HasSuffix(strings.TrimSpace(query), "?") {
		expansions = append(expansions,
			"what is "+query,
			"how to "+query,
			query+" explained",
		)
	}

	words := strings.Fields(query)
	if len(words) > 1 {
		broader := words[0]
		if len(words) > 2 {
			broader = strings.Join(words[:len(words)-1], " ")
		}
		expansions = append(expansions, broader, query+" guide")
	}

	if len(expansions) > maxSemanticExpansions {
		expansions = expansions[:maxSemanticExpansions]
	}
	return expansions
}

// domainExpansion appends a domain suffix for the first matching subject
// area, at most one.
func domainExpansion(query string) []string {
	queryLower := strings.ToLower(query)
	for _, rule := range domainExpansionRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(queryLower, keyword) {
				return []string{query + " " + rule.suffix}
			}
		}
	}
	return nil
}

// temporalExpansion adds the current year to time-sensitive queries that do
// not already carry a temporal marker.
func temporalExpansion(query string, now time.Time) []string {
	queryLower := strings.ToLower(query)
	if yearPattern.MatchString(queryLower) {
		return nil
	}
	for _, word := range strings.Fields(queryLower) {
		for _, marker := range temporalMarkers {
			if word == marker {
				return nil
			}
		}
	}

	for _, trigger := range temporalTriggers {
		if strings.Contains(queryLower, trigger) {
			return []string{query + " " + strconv.Itoa(now.Year())}
		}
	}
	return nil
}
