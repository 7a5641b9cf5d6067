package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  ErrorCategory
		retryable bool
	}{
		{"timeout", errors.New("request timeout after 30s"), ErrorCategoryOrderTimeout, true},
		{"deadline", errors.New("context deadline exceeded"), ErrorCategoryOrderTimeout, true},
		{"connection", errors.New("connection refused"), ErrorCategoryNetwork, true},
		{"dns", errors.New("dns lookup failed"), ErrorCategoryNetwork, true},
		{"rate limit", errors.New("rate limit exceeded"), ErrorCategoryRateLimit, true},
		{"validation", errors.New("invalid qty for symbol"), ErrorCategoryValidation, false},
		{"below minimum", errors.New("order value below minimum"), ErrorCategoryValidation, false},
		{"unknown", errors.New("something unexpected"), ErrorCategoryOrderPlacement, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			categorized := Categorize(tt.err, "gateway", "place_order")
			require.NotNil(t, categorized)
			assert.Equal(t, tt.category, categorized.Category)
			assert.Equal(t, tt.retryable, categorized.IsRetryable())
			assert.ErrorIs(t, categorized, tt.err)
		})
	}
}

func TestCategorizeNil(t *testing.T) {
	assert.Nil(t, Categorize(nil, "gateway", "place_order"))
}

func TestCategorizePassesThroughTradeError(t *testing.T) {
	original := New(ErrorCategoryStateConflict, "portfolio", "apply_fill", "unknown order")
	assert.Same(t, original, Categorize(original, "gateway", "place_order"))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: i/o problem")
	wrapped := Wrap(cause, ErrorCategoryNetwork, "gateway", "get_balance")

	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, wrapped.IsRetryable())
	assert.Contains(t, wrapped.Error(), "NETWORK")
	assert.Contains(t, wrapped.Error(), "get_balance")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorCategoryNetwork, "gateway", "get_balance"))
}

func TestWithRetryableOverride(t *testing.T) {
	err := New(ErrorCategoryNetwork, "gateway", "poll", "flaky").WithRetryable(false)
	assert.False(t, err.IsRetryable())
}

func TestIsFatal(t *testing.T) {
	assert.True(t, NewConfigurationError("config", "validate", "bad limits").IsFatal())
	assert.False(t, NewStateConflictError("portfolio", "apply_fill", "unknown order").IsFatal())
	assert.False(t, New(ErrorCategoryNetwork, "gateway", "poll", "down").IsFatal())
}

func TestErrorAsThroughWrapping(t *testing.T) {
	inner := New(ErrorCategoryRateLimit, "gateway", "place_order", "throttled")
	outer := fmt.Errorf("evaluating signal: %w", inner)

	var tradeErr *TradeError
	require.ErrorAs(t, outer, &tradeErr)
	assert.Equal(t, ErrorCategoryRateLimit, tradeErr.Category)
}
