package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("patient not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrTerminalState        = errors.New("patient already attended")
	ErrNotCalled            = errors.New("patient has not been called")
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
	ErrStoreUnavailable     = errors.New("patient store unavailable")
	ErrUnknownStage         = errors.New("unknown stage")
	ErrInvalidPatient       = errors.New("invalid patient data")

	// ErrQueueEmpty matches ErrNotFound as well
	ErrQueueEmpty = fmt.Errorf("no patient waiting: %w", ErrNotFound)
)
