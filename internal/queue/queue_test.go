package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	// With ±20% jitter the delay for attempt n lies within
	// [0.8, 1.2] × base × 2^(n-1), capped at an hour.
	expected := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
	}

	for attempt, base := range expected {
		for i := 0; i < 20; i++ {
			delay := RetryDelay(attempt + 1)
			assert.GreaterOrEqual(t, delay, time.Duration(float64(base)*0.8), "attempt %d", attempt+1)
			assert.LessOrEqual(t, delay, time.Duration(float64(base)*1.2), "attempt %d", attempt+1)
		}
	}
}

func TestRetryDelayCap(t *testing.T) {
	for i := 0; i < 20; i++ {
		delay := RetryDelay(50)
		assert.LessOrEqual(t, delay, time.Duration(float64(backoffCap)*1.2))
		assert.GreaterOrEqual(t, delay, time.Duration(float64(backoffCap)*0.8))
	}
}

func TestRetryDelayClampsAttempt(t *testing.T) {
	delay := RetryDelay(0)
	assert.GreaterOrEqual(t, delay, time.Duration(float64(backoffBase)*0.8))
	assert.LessOrEqual(t, delay, time.Duration(float64(backoffBase)*1.2))
}

func TestIsTransientErrorText(t *testing.T) {
	assert.True(t, IsTransientErrorText("dial tcp: i/o timeout"))
	assert.True(t, IsTransientErrorText("connect: connection refused"))
	assert.True(t, IsTransientErrorText("ai: provider returned status 503: overloaded"))
	assert.True(t, IsTransientErrorText("Too Many Requests"))
	assert.True(t, IsTransientErrorText("unexpected EOF"))

	assert.False(t, IsTransientErrorText("mailbox: authentication failed"))
	assert.False(t, IsTransientErrorText("failed to parse reply"))
	assert.False(t, IsTransientErrorText(""))
}
