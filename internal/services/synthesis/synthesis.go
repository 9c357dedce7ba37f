// internal/services/synthesis/synthesis.go
// Package synthesis turns fetched sources into a single answer using a local
// Ollama model.
package synthesis

import (
	"context"
	"fmt"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/common/errors"
	commonhttp "github.com/puneetrinity/llmbackend1/internal/common/http"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

// DependencyOllama is the circuit-breaker and cost-tracker key for the LLM.
// Local inference carries no dollar cost; usage is tracked in tokens.
const DependencyOllama = "ollama_llm"

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultModel       = "llama2:7b"
	defaultTemperature = 0.1
	defaultMaxTokens   = 500
	defaultTopP        = 0.9
	defaultTopK        = 40
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 2

	retryBaseDelay = 100 * time.Millisecond
)

type Config struct {
	Host        string
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
	Timeout     time.Duration
	MaxRetries  int
}

// Synthesizer generates answers from source content.
type Synthesizer struct {
	config Config
	client *commonhttp.Client
	logger logger.Logger
}

func NewSynthesizer(config Config, log logger.Logger) *Synthesizer {
	if config.Host == "" {
		config.Host = defaultOllamaHost
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Temperature <= 0 {
		config.Temperature = defaultTemperature
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.TopP <= 0 {
		config.TopP = defaultTopP
	}
	if config.TopK <= 0 {
		config.TopK = defaultTopK
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = defaultMaxRetries
	}
	return &Synthesizer{
		config: config,
		client: commonhttp.NewClient(config.Timeout),
		logger: log.WithFields(map[string]interface{}{"component": "synthesizer"}),
	}
}

// Synthesize builds the analysis prompt from the given sources and asks the
// model for an answer. Transient failures are retried with exponential
// backoff; the returned error is a classified StandardError.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, sources []models.FetchedSource) (models.SynthesisResult, error) {
	if len(sources) == 0 {
		return models.SynthesisResult{}, errors.NewLLMSynthesisFailedError(
			fmt.Errorf("no sources to synthesize from"))
	}

	start := time.Now()
	prompt := buildPrompt(query, sources)

	raw, err := s.generate(ctx, prompt)
	if err != nil {
		if errors.IsTimeout(err) {
			return models.SynthesisResult{}, errors.NewLLMTimeoutError()
		}
		return models.SynthesisResult{}, errors.NewLLMSynthesisFailedError(err)
	}

	answer, tooShort := cleanAnswer(raw)
	result := models.SynthesisResult{
		Answer:     answer,
		TokensUsed: estimateTokens(prompt, raw),
	}
	if tooShort {
		result.Confidence = 0.1
	} else {
		result.Confidence = answerConfidence(answer, sources)
	}

	s.logger.Info("synthesis completed", map[string]interface{}{
		"query":       query,
		"answer_len":  len(answer),
		"confidence":  result.Confidence,
		"tokens_used": result.TokensUsed,
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})
	return result, nil
}

// generate calls the model, retrying transient failures with exponential
// backoff. Retrying stops as soon as the request context is done.
func (s *Synthesizer) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		raw, err := s.callOllama(ctx, prompt)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		s.logger.Warn("ollama call failed", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}
	return "", lastErr
}
