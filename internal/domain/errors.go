package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeRender       ErrorType = "render"
	ErrorTypePrecondition ErrorType = "precondition"
	ErrorTypeAPI          ErrorType = "api"
	ErrorTypeTransient    ErrorType = "transient"
	ErrorTypeCredential   ErrorType = "credential"
	ErrorTypeSafety       ErrorType = "safety"
	ErrorTypeEmpty        ErrorType = "empty"
	ErrorTypeMalformed    ErrorType = "malformed"
	ErrorTypeImageAction  ErrorType = "image_action"
	ErrorTypeStale        ErrorType = "stale"
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeIO           ErrorType = "io"
)

// Category tells the presentation layer how to react to a failure.
type Category string

const (
	CategoryNeedsCredential Category = "needs_credential"
	CategoryRetryLater      Category = "retry_later"
	CategoryFatal           Category = "fatal"
	CategoryInfo            Category = "info"
)

// DomainError represents a domain-specific error with context.
// Detail holds diagnostic payloads (for example the raw model output) that
// are logged but never shown to the user.
type DomainError struct {
	Type    ErrorType
	Message string
	Detail  string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// ErrStaleResult is returned when a reply arrives for a page that is no longer loaded.
var ErrStaleResult = NewError(ErrorTypeStale, "result discarded because the document or page changed", nil)

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func RenderError(message string, err error) *DomainError {
	return NewError(ErrorTypeRender, message, err)
}

func PreconditionError(message string) *DomainError {
	return NewError(ErrorTypePrecondition, message, nil)
}

func APIError(message string, err error) *DomainError {
	return NewError(ErrorTypeAPI, message, err)
}

func TransientServiceError(message string, err error) *DomainError {
	return NewError(ErrorTypeTransient, message, err)
}

func InvalidCredentialError(message string, err error) *DomainError {
	return NewError(ErrorTypeCredential, message, err)
}

func SafetyBlockedError(message string) *DomainError {
	return NewError(ErrorTypeSafety, message, nil)
}

func EmptyResponseError(message string) *DomainError {
	return NewError(ErrorTypeEmpty, message, nil)
}

func MalformedResponseError(message, raw string, err error) *DomainError {
	e := NewError(ErrorTypeMalformed, message, err)
	e.Detail = raw
	return e
}

func ImageActionError(message string, err error) *DomainError {
	return NewError(ErrorTypeImageAction, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// IsType reports whether any DomainError in err's chain has type t.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		var de *DomainError
		if !errors.As(err, &de) {
			return false
		}
		if de.Type == t {
			return true
		}
		err = de.Err
	}
	return false
}

// IsEmptyResponse is true for empty replies, including safety-blocked ones.
func IsEmptyResponse(err error) bool {
	return IsType(err, ErrorTypeEmpty) || IsType(err, ErrorTypeSafety)
}

// Classify returns the type of the innermost DomainError in err's chain.
// Errors outside the taxonomy classify as api errors.
func Classify(err error) ErrorType {
	found := ErrorType("")
	for err != nil {
		var de *DomainError
		if !errors.As(err, &de) {
			break
		}
		found = de.Type
		err = de.Err
	}
	if found == "" {
		return ErrorTypeAPI
	}
	return found
}

// CategoryOf maps an error onto the reaction the caller should take.
func CategoryOf(err error) Category {
	switch Classify(err) {
	case ErrorTypeCredential:
		return CategoryNeedsCredential
	case ErrorTypeTransient, ErrorTypeMalformed, ErrorTypeEmpty, ErrorTypeImageAction:
		return CategoryRetryLater
	case ErrorTypeStale, ErrorTypePrecondition:
		return CategoryInfo
	default:
		return CategoryFatal
	}
}

// UserMessage returns a displayable message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case ErrorTypeCredential:
		return "Your API key is not valid. Please enter a new key."
	case ErrorTypeSafety:
		return "The request was blocked by the API's safety filters. Please try with a different image."
	case ErrorTypeEmpty:
		return "The AI returned an empty response. This could be due to a network issue or an issue with the file."
	case ErrorTypeMalformed:
		return "There was an issue processing the AI's response. Please try again."
	case ErrorTypeTransient:
		return "The AI service is still busy after multiple attempts. Please try again later."
	case ErrorTypeRender:
		return "Failed to render the file. It might be corrupted or unsupported."
	}
	var de *DomainError
	if errors.As(err, &de) {
		if de.Err != nil {
			return fmt.Sprintf("%s: %v", de.Message, de.Err)
		}
		return de.Message
	}
	return err.Error()
}
