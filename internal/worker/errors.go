package worker

import (
	"context"
	"errors"
	"net"

	"gorm.io/gorm"

	"support-mail-ai-go/internal/ai"
	"support-mail-ai-go/internal/mailbox"
)

// Error type labels recorded on failed jobs.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// ClassifyError maps a processing error to its type label and whether a
// retry can succeed. Unknown errors default to retryable: retrying a
// permanent error wastes attempts, but dead-lettering a transient one
// loses a customer email.
func ClassifyError(err error) (string, bool) {
	if mailbox.IsAuthError(err) {
		return ErrorTypePermanent, false
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrorTypePermanent, false
	}
	if errors.Is(err, ai.ErrRateLimited) {
		return ErrorTypeTransient, true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTypeTransient, true
	}

	var provErr *ai.ProviderError
	if errors.As(err, &provErr) {
		if provErr.Transient() {
			return ErrorTypeTransient, true
		}
		return ErrorTypePermanent, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorTypeTransient, true
	}

	return ErrorTypeTransient, true
}
