// internal/services/synthesis/prompt.go
package synthesis

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/puneetrinity/llmbackend1/internal/models"
)

const (
	maxPromptSources    = 5
	maxCharsPerSource   = 800
	minAnswerChars      = 50
	maxAnswerChars      = 2000
	tokensPerWord       = 1.3
	shortAnswerFallback = "The analysis generated a response that was too short to be meaningful."
)

const promptTemplate = `You are an AI assistant that provides accurate, helpful responses based on web search results.

USER QUERY: %s

SEARCH RESULTS:
%s

INSTRUCTIONS:
1. Provide a comprehensive, accurate answer to the user's query based on the search results above
2. Synthesize information from multiple sources when possible
3. Be factual and cite information appropriately
4. If the search results don't fully answer the query, acknowledge what's missing
5. Keep your response focused and relevant to the specific query
6. Aim for 2-4 paragraphs unless a shorter or longer response is more appropriate
7. Use clear, accessible language

RESPONSE:`

// Prefixes the model tends to echo from the prompt.
var answerArtifacts = []string{
	"RESPONSE:",
	"Answer:",
	"Based on the search results:",
	"According to the provided information:",
}

// buildPrompt combines the top sources into the analysis prompt. Each source
// contributes at most maxCharsPerSource characters of content.
func buildPrompt(query string, sources []models.FetchedSource) string {
	if len(sources) > maxPromptSources {
		sources = sources[:maxPromptSources]
	}

	sections := make([]string, 0, len(sources))
	for i, source := range sources {
		content := source.Content
		if len(content) > maxCharsPerSource {
			content = clip(content, maxCharsPerSource) + "..."
		}
		sections = append(sections, fmt.Sprintf(
			"Source %d (%s):\nTitle: %s\nURL: %s\nContent: %s\n",
			i+1, source.SourceType, source.Title, source.URL, content))
	}

	return fmt.Sprintf(promptTemplate, query, strings.Join(sections, "\n---\n"))
}

// cleanAnswer strips prompt artifacts and bounds the answer length. The
// second return value reports whether the answer was too short to keep.
func cleanAnswer(raw string) (string, bool) {
	answer := strings.TrimSpace(raw)
	for _, artifact := range answerArtifacts {
		if strings.HasPrefix(answer, artifact) {
			answer = strings.TrimSpace(strings.TrimPrefix(answer, artifact))
		}
	}
	if len(answer) < minAnswerChars {
		return shortAnswerFallback, true
	}
	if len(answer) > maxAnswerChars {
		answer = clip(answer, maxAnswerChars) + "..."
	}
	return answer, false
}

// Filler phrases that signal the model had nothing to work with.
var genericIndicators = []string{"error", "unable to", "cannot provide", "insufficient information"}

// answerConfidence rates the answer from source quality, answer length, and
// source diversity.
func answerConfidence(answer string, sources []models.FetchedSource) float64 {
	score := 0.5

	var confidenceSum float64
	for _, source := range sources {
		confidenceSum += source.Confidence
	}
	score += confidenceSum / float64(len(sources)) * 0.3

	words := len(strings.Fields(answer))
	switch {
	case words >= 50 && words <= 300:
		score += 0.2
	case words > 20:
		score += 0.1
	}

	domains := make(map[string]struct{})
	for _, source := range sources {
		if u, err := url.Parse(source.URL); err == nil && u.Hostname() != "" {
			domains[u.Hostname()] = struct{}{}
		}
	}
	if len(domains) > 1 {
		score += 0.1
	}

	answerLower := strings.ToLower(answer)
	for _, indicator := range genericIndicators {
		if strings.Contains(answerLower, indicator) {
			score -= 0.2
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

// estimateTokens approximates prompt plus completion token usage. Ollama does
// not bill, but the cost tracker records unit volume per dependency.
func estimateTokens(prompt, answer string) int {
	words := len(strings.Fields(prompt)) + len(strings.Fields(answer))
	return int(float64(words) * tokensPerWord)
}

// clip cuts s to at most max bytes on a rune boundary.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
