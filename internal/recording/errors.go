package recording

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not allowed from the current state
	ErrInvalidState = errors.New("invalid recording state")

	// ErrSourceUnavailable is returned when the capture source cannot be acquired
	ErrSourceUnavailable = errors.New("capture source unavailable")

	// ErrConversion is returned when the transcoding backend fails
	ErrConversion = errors.New("conversion failed")

	// ErrNoReferenceInstant is returned when synchronization has no recording start to anchor on
	ErrNoReferenceInstant = errors.New("no reference instant")

	// ErrEmptyBuffer is returned when an export is requested with zero recorded chunks
	ErrEmptyBuffer = errors.New("no recorded chunks")

	// ErrBufferFrozen is returned when writing to a chunk buffer after it was frozen
	ErrBufferFrozen = errors.New("chunk buffer is frozen")
)

// TransitionError reports an event that the transition table has no entry for.
// It unwraps to ErrInvalidState.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s: %v", e.Event, e.From, ErrInvalidState)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidState
}
