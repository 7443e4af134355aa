package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/oryntel/docindex/internal/core/domain"
)

func TestClassifyIndexError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"nil", nil, false, false},
		{"cancellation", context.Canceled, false, false},
		{"backend unavailable", domain.WrapError(domain.ErrBackendUnavailable, "op", errors.New("refused")), true, true},
		{"timeout", domain.WrapError(domain.ErrTimeout, "op", context.DeadlineExceeded), true, true},
		{"validation", domain.WrapError(domain.ErrValidation, "op", errors.New("bad chunk")), false, true},
		{"schema", domain.WrapError(domain.ErrSchema, "op", errors.New("dims drift")), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class := ClassifyIndexError(tc.err)
			if class.Retryable != tc.retryable || class.RecordFailure != tc.record {
				t.Fatalf("ClassifyIndexError(%v) = %+v", tc.err, class)
			}
		})
	}
}
