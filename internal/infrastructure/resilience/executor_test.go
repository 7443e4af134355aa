package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/oryntel/docindex/internal/core/domain"
)

func retryOnlyConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestExecuteRetriesUnavailableEngineByDefault(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig())

	// A nil classifier falls back to the error taxonomy: unavailability
	// heals on retry.
	attempts := 0
	err := exec.Execute(context.Background(), "vespa search", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.WrapError(domain.ErrBackendUnavailable, "vespa search",
				errors.New("content node down"))
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryValidationFailure(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig())

	attempts := 0
	err := exec.Execute(context.Background(), "index batch", func(context.Context) error {
		attempts++
		return domain.WrapError(domain.ErrValidation, "index batch",
			errors.New("embedding dimension mismatch"))
	}, nil)
	if !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// Retrying cannot fix a malformed request.
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryCancelledContext(t *testing.T) {
	exec := NewExecutor(retryOnlyConfig())

	attempts := 0
	err := exec.Execute(context.Background(), "retrieve", func(context.Context) error {
		attempts++
		return context.Canceled
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterUnavailableFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	engineDown := domain.WrapError(domain.ErrTimeout, "elastic search",
		errors.New("request timed out"))
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "elastic search", func(context.Context) error {
			return engineDown
		}, nil)
		if !domain.IsKind(err, domain.ErrTimeout) {
			t.Fatalf("expected timeout error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "elastic search", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatalf("IsCircuitOpen must report the rejected call, got %v", err)
	}
}

func TestExecuteBreakerIgnoresValidationFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    1,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     1 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      true,
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  50 * time.Millisecond,
	})

	// Caller mistakes must not count against the engine's health.
	badRequest := domain.WrapError(domain.ErrValidation, "retrieve",
		errors.New("negative offset"))
	for i := 0; i < 5; i++ {
		err := exec.Execute(context.Background(), "retrieve", func(context.Context) error {
			return badRequest
		}, func(error) ErrorClassification {
			return ErrorClassification{Retryable: false, RecordFailure: false}
		})
		if !domain.IsKind(err, domain.ErrValidation) {
			t.Fatalf("expected validation error on iteration %d, got %v", i, err)
		}
	}

	called := false
	err := exec.Execute(context.Background(), "retrieve", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if err != nil || !called {
		t.Fatalf("circuit must stay closed, called=%v err=%v", called, err)
	}
}
