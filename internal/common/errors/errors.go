// Package errors provides standardized error handling for the search pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Guard rejections: produced without any network call.
	ErrCodeCircuitOpen    ErrorCode = "CIRCUIT_OPEN"
	ErrCodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"

	// Dependency call failures.
	ErrCodeSearchProviderFailed ErrorCode = "SEARCH_PROVIDER_FAILED"
	ErrCodeSearchTimeout        ErrorCode = "SEARCH_TIMEOUT"
	ErrCodeContentFetchFailed   ErrorCode = "CONTENT_FETCH_FAILED"
	ErrCodeContentFetchTimeout  ErrorCode = "CONTENT_FETCH_TIMEOUT"
	ErrCodeLLMTimeout           ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMSynthesisFailed   ErrorCode = "LLM_SYNTHESIS_FAILED"
	ErrCodeEnhancementFailed    ErrorCode = "ENHANCEMENT_FAILED"

	// Pipeline outcomes.
	ErrCodeNoUsableSources   ErrorCode = "NO_USABLE_SOURCES"
	ErrCodeRequestTimeout    ErrorCode = "REQUEST_TIMEOUT"
	ErrCodeSynthesisDegraded ErrorCode = "SYNTHESIS_DEGRADED"

	// Infrastructure.
	ErrCodeCacheUnavailable         ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeHistoryIndexFailed       ErrorCode = "HISTORY_INDEX_FAILED"
	ErrCodeRateLimited              ErrorCode = "RATE_LIMITED"
)

// Kind is the coarse classification the pipeline's failure policy keys on.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindDependencyUnavailable Kind = "dependency_unavailable" // guard rejection, no call made
	KindDependencyFailure     Kind = "dependency_failure"     // an actual call failed
	KindNoUsableSources       Kind = "no_usable_sources"
	KindSynthesisDegraded     Kind = "synthesis_degraded"
	KindInternal              Kind = "internal"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable request validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCircuitOpenError creates the rejection returned when a dependency's
// circuit is open. No call was made.
func NewCircuitOpenError(dependency string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCircuitOpen,
		Message:   "Dependency unavailable: circuit open",
		Details:   fmt.Sprintf("dependency: %s", dependency),
		Retryable: true,
		Metadata:  map[string]interface{}{"dependency": dependency},
		Timestamp: time.Now().UTC(),
	}
}

// NewBudgetExceededError creates the rejection returned when a cost
// reservation is denied. No call was made.
func NewBudgetExceededError(provider, window string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBudgetExceeded,
		Message:   "Dependency unavailable: budget exceeded",
		Details:   fmt.Sprintf("provider: %s, window: %s", provider, window),
		Retryable: true,
		Metadata:  map[string]interface{}{"dependency": provider},
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchProviderFailedError creates a retryable search provider error.
func NewSearchProviderFailedError(provider string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchProviderFailed,
		Message:   "Search provider call failed",
		Details:   fmt.Sprintf("provider: %s, error: %s", provider, err.Error()),
		Retryable: true,
		Metadata:  map[string]interface{}{"dependency": provider},
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchTimeoutError creates a search timeout error. The stage absorbs it;
// the provider is not re-called within the request.
func NewSearchTimeoutError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchTimeout,
		Message:   "Search provider timeout",
		Details:   fmt.Sprintf("provider: %s", provider),
		Retryable: false,
		Metadata:  map[string]interface{}{"dependency": provider},
		Timestamp: time.Now().UTC(),
	}
}

// NewContentFetchFailedError creates a per-URL fetch error. The source is
// dropped, not the request.
func NewContentFetchFailedError(url string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeContentFetchFailed,
		Message:   "Content fetch failed",
		Details:   fmt.Sprintf("url: %s, error: %s", url, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewContentFetchTimeoutError creates a per-URL fetch timeout error.
func NewContentFetchTimeoutError(url string) *StandardError {
	return &StandardError{
		Code:      ErrCodeContentFetchTimeout,
		Message:   "Content fetch timeout",
		Details:   fmt.Sprintf("url: %s", url),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMTimeoutError creates a retryable LLM timeout error.
func NewLLMTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMTimeout,
		Message:   "LLM synthesis timeout",
		Details:   "LLM call exceeded timeout threshold",
		Retryable: true,
		Metadata:  map[string]interface{}{"dependency": "ollama_llm"},
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMSynthesisFailedError creates a retryable LLM synthesis error.
func NewLLMSynthesisFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMSynthesisFailed,
		Message:   "LLM synthesis API error",
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"dependency": "ollama_llm"},
		Timestamp: time.Now().UTC(),
	}
}

// NewEnhancementFailedError creates a non-retryable enhancement error. The
// pipeline degrades to the raw query instead of failing.
func NewEnhancementFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEnhancementFailed,
		Message:   "Query enhancement failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoUsableSourcesError creates the fatal error returned when every search
// provider or every content fetch failed and nothing remains to answer from.
func NewNoUsableSourcesError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoUsableSources,
		Message:   "No usable sources for query",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRequestTimeoutError creates the error returned when the overall request
// deadline expires before a partial response could be assembled.
func NewRequestTimeoutError(elapsed time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeRequestTimeout,
		Message:   "Request deadline exceeded",
		Details:   fmt.Sprintf("elapsed: %s", elapsed),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSynthesisDegradedError marks a non-fatal synthesis failure. Callers use
// it for diagnostics; the response carries a snippet answer instead.
func NewSynthesisDegradedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSynthesisDegraded,
		Message:   "Answer synthesis degraded to snippets",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheUnavailableError creates a cache tier error. Cache errors degrade to
// misses and never fail a request.
func NewCacheUnavailableError(tier string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Cache tier unavailable",
		Details:   fmt.Sprintf("tier: %s, error: %s", tier, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseInsertFailedError creates a retryable database insert error.
func NewDatabaseInsertFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Database insert operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewHistoryIndexFailedError creates a retryable history indexing error.
func NewHistoryIndexFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeHistoryIndexFailed,
		Message:   "Search history indexing failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError creates the rejection returned by the API rate limiter.
func NewRateLimitedError(clientIP string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Too many requests",
		Details:   fmt.Sprintf("client: %s", clientIP),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"dependency": service},
		Timestamp: time.Now().UTC(),
	}
}

func NewInternalError(message string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification
// ==========================

// KindMapping maps error codes to the pipeline failure-policy kinds.
var KindMapping = map[ErrorCode]Kind{
	ErrCodeValidation:           KindValidation,
	ErrCodeCircuitOpen:          KindDependencyUnavailable,
	ErrCodeBudgetExceeded:       KindDependencyUnavailable,
	ErrCodeSearchProviderFailed: KindDependencyFailure,
	ErrCodeSearchTimeout:        KindDependencyFailure,
	ErrCodeContentFetchFailed:   KindDependencyFailure,
	ErrCodeContentFetchTimeout:  KindDependencyFailure,
	ErrCodeLLMTimeout:           KindDependencyFailure,
	ErrCodeLLMSynthesisFailed:   KindDependencyFailure,
	ErrCodeEnhancementFailed:    KindDependencyFailure,
	ErrCodeNoUsableSources:      KindNoUsableSources,
	ErrCodeRequestTimeout:       KindDependencyFailure,
	ErrCodeSynthesisDegraded:    KindSynthesisDegraded,
}

// ClassifyError returns the failure-policy kind for any error. Unknown errors
// classify as internal.
func ClassifyError(err error) Kind {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		if kind, ok := KindMapping[stdErr.Code]; ok {
			return kind
		}
	}
	return KindInternal
}

// CodeOf extracts the error code, or "INTERNAL_ERROR" for plain errors.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return "INTERNAL_ERROR"
}

// IsKind reports whether err classifies to the given kind.
func IsKind(err error, kind Kind) bool {
	return ClassifyError(err) == kind
}

// IsGuardRejection reports whether err was produced by a breaker or budget
// guard, meaning no network call happened.
func IsGuardRejection(err error) bool {
	return ClassifyError(err) == KindDependencyUnavailable
}

// ==========================
// 4. Utility Functions
// ==========================

// IsRetryable checks the retryable flag, defaulting to false for plain errors.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// IsTimeout reports whether err looks like a timeout from any layer.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		switch stdErr.Code {
		case ErrCodeSearchTimeout, ErrCodeContentFetchTimeout, ErrCodeLLMTimeout, ErrCodeRequestTimeout:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "Client.Timeout")
}

// GetErrorCategory returns the coarse category of the error code, used for
// metrics labels.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "CIRCUIT") || strings.Contains(codeStr, "BUDGET"):
		return "GUARD"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "FETCH") || strings.Contains(codeStr, "CONTENT"):
		return "FETCH"
	case strings.Contains(codeStr, "LLM") || strings.Contains(codeStr, "SYNTHESIS"):
		return "SYNTHESIS"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "CACHE") || strings.Contains(codeStr, "HISTORY"):
		return "STORAGE"
	default:
		return "OTHER"
	}
}
