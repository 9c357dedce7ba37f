// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationResult collects the outcome of a schema validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError describes a single field failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidateJSON validates raw JSON bytes against a JSON schema document.
func ValidateJSON(schemaJSON string, document []byte) (*ValidationResult, error) {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(document)
	return runValidation(schemaLoader, documentLoader)
}

// ValidateObject validates an already-decoded value against a JSON schema
// document.
func ValidateObject(schemaJSON string, document interface{}) (*ValidationResult, error) {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewGoLoader(document)
	return runValidation(schemaLoader, documentLoader)
}

func runValidation(schemaLoader, documentLoader gojsonschema.JSONLoader) (*ValidationResult, error) {
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}

	vr := &ValidationResult{Valid: result.Valid()}
	if !result.Valid() {
		vr.Errors = make([]ValidationError, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			vr.Errors = append(vr.Errors, ValidationError{
				Field:   desc.Field(),
				Message: desc.Description(),
				Code:    desc.Type(),
			})
		}
	}
	return vr, nil
}

// GetErrorMessages flattens errors into human-readable strings.
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return messages
}

// HasErrors reports whether any error was recorded for the field.
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, e := range vr.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// GetErrorsForField returns all errors recorded for the field.
func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, e := range vr.Errors {
		if e.Field == field {
			fieldErrors = append(fieldErrors, e)
		}
	}
	return fieldErrors
}

// ValidateURL validates URL format
func ValidateURL(url string) bool {
	urlPattern := regexp.MustCompile(`^(https?|ftp)://[^\s/$.?#].[^\s]*$`)
	return urlPattern.MatchString(url)
}

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	emailPattern := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailPattern.MatchString(email)
}
