// internal/common/errors/handler.go
package errors

import (
	"errors"
	"time"
)

// ErrorHandler normalizes and logs pipeline errors with standardized fields.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Normalize ensures we always have a StandardError.
func (h *ErrorHandler) Normalize(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// HandleStageError normalizes and logs a stage failure, returning the
// normalized error. Absorbed failures log at warn, fatal kinds at error.
func (h *ErrorHandler) HandleStageError(requestID, stage string, err error, absorbed bool) *StandardError {
	stdErr := h.Normalize(err)

	fields := map[string]interface{}{
		"requestId":     requestID,
		"stage":         stage,
		"errorCode":     string(stdErr.Code),
		"errorKind":     string(ClassifyError(stdErr)),
		"errorCategory": GetErrorCategory(stdErr.Code),
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"absorbed":      absorbed,
	}
	if dep, ok := stdErr.Metadata["dependency"]; ok {
		fields["dependency"] = dep
	}

	if absorbed {
		h.logger.Warn("stage error absorbed", fields)
	} else {
		h.logger.Error("stage failed", fields)
	}
	return stdErr
}
