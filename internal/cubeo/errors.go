package cubeo

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is.
var (
	// ErrValidation marks malformed input. Not retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound signals a miss between pipeline stages. The resolver
	// never returns it to callers.
	ErrNotFound = errors.New("not found")

	// ErrRemoteUnavailable marks a failed or timed-out remote model call.
	ErrRemoteUnavailable = errors.New("remote translation unavailable")

	// ErrStore marks a failed write to the corpus or correction store.
	ErrStore = errors.New("store error")
)

// ErrEmptyInput is returned for text that is empty after trimming.
var ErrEmptyInput = fmt.Errorf("%w: text is empty", ErrValidation)

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func remoteError(err error) error {
	return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
}
