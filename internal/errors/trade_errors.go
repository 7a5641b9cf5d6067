package errors

import (
	"fmt"
	"strings"
)

// ErrorCategory classifies failures by how the bot should react to them.
type ErrorCategory string

const (
	// Fatal at startup or for the affected order
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryStateConflict ErrorCategory = "STATE_CONFLICT"

	// Exchange/network failures, eligible for bounded retry
	ErrorCategoryNetwork        ErrorCategory = "NETWORK"
	ErrorCategoryOrderPlacement ErrorCategory = "ORDER_PLACEMENT_FAILED"
	ErrorCategoryOrderTimeout   ErrorCategory = "ORDER_TIMEOUT"
	ErrorCategoryRateLimit      ErrorCategory = "RATE_LIMIT"

	// Local validation, never retried
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
)

// TradeError is a categorized error carrying component/operation context.
type TradeError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *TradeError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *TradeError) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether the operation may be retried.
func (e *TradeError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal reports whether the error should stop the bot.
func (e *TradeError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal || e.Category == ErrorCategoryConfiguration
}

// New creates a categorized error without an underlying cause.
func New(category ErrorCategory, component, operation, message string) *TradeError {
	return &TradeError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: isRetryableCategory(category),
	}
}

// Wrap attaches category and context to an existing error.
func Wrap(err error, category ErrorCategory, component, operation string) *TradeError {
	if err == nil {
		return nil
	}
	return &TradeError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  isRetryableCategory(category),
	}
}

// WithRetryable overrides the retryable flag.
func (e *TradeError) WithRetryable(retryable bool) *TradeError {
	e.Retryable = retryable
	return e
}

func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryRateLimit, ErrorCategoryOrderPlacement, ErrorCategoryOrderTimeout:
		return true
	default:
		return false
	}
}

// Categorize classifies a generic error from the gateway boundary.
func Categorize(err error, component, operation string) *TradeError {
	if err == nil {
		return nil
	}
	if tradeErr, ok := err.(*TradeError); ok {
		return tradeErr
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "context deadline exceeded"):
		return Wrap(err, ErrorCategoryOrderTimeout, component, operation)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "dns") || strings.Contains(msg, "dial"):
		return Wrap(err, ErrorCategoryNetwork, component, operation)
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return Wrap(err, ErrorCategoryRateLimit, component, operation)
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "minimum") || strings.Contains(msg, "maximum"):
		return Wrap(err, ErrorCategoryValidation, component, operation)
	default:
		return Wrap(err, ErrorCategoryOrderPlacement, component, operation)
	}
}

// NewConfigurationError marks a config problem; these are fatal at startup.
func NewConfigurationError(component, operation, message string) *TradeError {
	return New(ErrorCategoryConfiguration, component, operation, message)
}

// NewStateConflictError marks a fill that cannot be applied to portfolio
// state, e.g. an unknown clientOrderId. Never retried: the order needs
// manual reconciliation, dropping it would corrupt portfolio truth.
func NewStateConflictError(component, operation, message string) *TradeError {
	return New(ErrorCategoryStateConflict, component, operation, message)
}
