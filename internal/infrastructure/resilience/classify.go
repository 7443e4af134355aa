package resilience

import (
	"context"
	"errors"

	"github.com/oryntel/docindex/internal/core/domain"
)

// ClassifyIndexError maps the typed error taxonomy onto retry semantics.
// Engine unavailability and timeouts may heal on retry; validation, schema
// and capability errors never do.
func ClassifyIndexError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if domain.IsKind(err, domain.ErrBackendUnavailable) || domain.IsKind(err, domain.ErrTimeout) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{Retryable: false, RecordFailure: true}
}
