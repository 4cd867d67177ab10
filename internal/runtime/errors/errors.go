package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrStreamRequired      = sterrors.New("eventscore: stream is required")
	ErrLoggerRequired      = sterrors.New("eventscore: logger is required")
	ErrConfigRequired      = sterrors.New("eventscore: configuration is required")
	ErrAlreadySpawned      = sterrors.New("eventscore: workers already spawned")
	ErrInvalidRegistration = sterrors.New("eventscore: invalid consumer registration")

	ErrEmptyPipeline      = sterrors.New("eventscore: pipeline has no consumers")
	ErrClonesMismatch     = sterrors.New("eventscore: consumers in a pipeline declare different clone counts")
	ErrUnrelatedConsumers = sterrors.New("eventscore: consumers in a pipeline listen to different event types")

	ErrNoConsumers      = sterrors.New("eventscore: runner needs at least one consumer")
	ErrInvalidMaxEvents = sterrors.New("eventscore: max events must be -1 or positive")

	ErrDiscoveryRootNotFound     = sterrors.New("eventscore: discovery root does not exist")
	ErrDiscoveryRootNotDirectory = sterrors.New("eventscore: discovery root is not a directory")
	ErrDiscoveryRootNotPackage   = sterrors.New("eventscore: discovery root is not a Go package")
)

// ConfigValidationError wraps the joined errors returned by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("eventscore: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
