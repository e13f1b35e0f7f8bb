// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
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
	ErrCodeInputParsingFailed ErrorCode = "INPUT_PARSING_FAILED"
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeBookingLookupFailed      ErrorCode = "BOOKING_LOOKUP_FAILED"
	ErrCodeSeekerLookupFailed       ErrorCode = "SEEKER_LOOKUP_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"

	ErrCodeDeliveryClaimFailed ErrorCode = "DELIVERY_CLAIM_FAILED"

	ErrCodeEmailProviderError    ErrorCode = "EMAIL_PROVIDER_ERROR"
	ErrCodeEmailProviderTimeout  ErrorCode = "EMAIL_PROVIDER_TIMEOUT"
	ErrCodeTemplateNotConfigured ErrorCode = "TEMPLATE_NOT_CONFIGURED"
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
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	if e.ErrorVariables != nil {
		for k, v := range e.ErrorVariables {
			vars[k] = v
		}
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewInputParsingFailedError creates a non-retryable job variable parsing error.
func NewInputParsingFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInputParsingFailed,
		Message:   "Failed to parse job variables",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable input validation error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Job input validation failed",
		Details:   details,
		Retryable: false,
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

// NewBookingLookupFailedError creates a retryable booking lookup error.
// Not used for missing rows; those skip the job instead of failing it.
func NewBookingLookupFailedError(bookingID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBookingLookupFailed,
		Message:   "Database error while loading booking",
		Details:   fmt.Sprintf("bookingId: %s, error: %s", bookingID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSeekerLookupFailedError creates a retryable seeker profile lookup error.
// A seeker with no email address on file is not an error; this covers the
// query itself failing.
func NewSeekerLookupFailedError(seekerProfileID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSeekerLookupFailed,
		Message:   "Database error while loading seeker profile",
		Details:   fmt.Sprintf("seekerProfileId: %s, error: %s", seekerProfileID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryClaimFailedError creates a retryable delivery claim error.
func NewDeliveryClaimFailedError(dedupeKey string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryClaimFailed,
		Message:   "Failed to claim delivery record",
		Details:   fmt.Sprintf("dedupeKey: %s, error: %s", dedupeKey, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmailProviderError creates a retryable email provider error.
// The provider status code and response body travel in Metadata so the
// queue retains the full failure context across retries.
func NewEmailProviderError(statusCode int, body string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEmailProviderError,
		Message:   "Email provider request failed",
		Details:   err.Error(),
		Retryable: true,
		Metadata: map[string]interface{}{
			"statusCode":   statusCode,
			"responseBody": body,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEmailProviderTimeoutError creates a retryable provider timeout error.
func NewEmailProviderTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeEmailProviderTimeout,
		Message:   "Email provider request timed out",
		Details:   "request exceeded configured timeout",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateNotConfiguredError creates a non-retryable configuration error.
func NewTemplateNotConfiguredError(templateKey string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotConfigured,
		Message:   "No provider template id configured",
		Details:   fmt.Sprintf("templateKey: %s", templateKey),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// Generic constructors

func NewBusinessRuleError(message, details string) *StandardError {
	return &StandardError{
		Code:      "BUSINESS_RULE_VIOLATION",
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return &StandardError{
		Code:      "RESOURCE_NOT_FOUND",
		Message:   fmt.Sprintf("Resource not found in %s", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes (same as internal).
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInputParsingFailed:       "INPUT_PARSING_FAILED",
	ErrCodeValidationFailed:         "VALIDATION_FAILED",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeBookingLookupFailed:      "BOOKING_LOOKUP_FAILED",
	ErrCodeSeekerLookupFailed:       "SEEKER_LOOKUP_FAILED",
	ErrCodeQueryTimeout:             "QUERY_TIMEOUT",
	ErrCodeDeliveryClaimFailed:      "DELIVERY_CLAIM_FAILED",
	ErrCodeEmailProviderError:       "EMAIL_PROVIDER_ERROR",
	ErrCodeEmailProviderTimeout:     "EMAIL_PROVIDER_TIMEOUT",
	ErrCodeTemplateNotConfigured:    "TEMPLATE_NOT_CONFIGURED",
}

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeBookingLookupFailed,
		ErrCodeSeekerLookupFailed,
		ErrCodeDeliveryClaimFailed,
		ErrCodeEmailProviderError:
		return 3 // Retryable technical errors

	case ErrCodeQueryTimeout,
		ErrCodeEmailProviderTimeout:
		return 2 // Partial retry for timeouts

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code) // Fallback
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	errVars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		errVars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: errVars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "EMAIL") || strings.Contains(codeStr, "TEMPLATE"):
		return "EMAIL"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") ||
		strings.Contains(codeStr, "BOOKING") || strings.Contains(codeStr, "DELIVERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION") ||
		strings.Contains(codeStr, "PARSING"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
