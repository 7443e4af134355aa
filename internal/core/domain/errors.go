package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means the deployment is wired wrong; the process
	// should not start.
	ErrConfiguration = errors.New("configuration error")
	// ErrSchema means the engine holds an incompatible schema for this
	// deployment; fatal for schema management calls.
	ErrSchema = errors.New("schema error")
	// ErrValidation is rejected caller input, raised before any network call.
	ErrValidation = errors.New("validation error")
	// ErrCapabilityUnsupported means the active backend cannot honor a filter
	// or tunable and refuses to silently degrade.
	ErrCapabilityUnsupported = errors.New("capability unsupported")
	ErrBackendUnavailable    = errors.New("backend unavailable")
	ErrTimeout               = errors.New("timeout")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
