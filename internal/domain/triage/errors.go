package triage

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	// ErrInvalidLevel also matches ErrValidation under errors.Is.
	ErrInvalidLevel      = fmt.Errorf("%w: invalid triage level", ErrValidation)
	ErrNotFound          = errors.New("not found")
	ErrDuplicateID       = errors.New("patient already queued")
	ErrUpstreamScoring   = errors.New("scoring engine unavailable")
	ErrEmptyQueue        = errors.New("queue is empty")
	ErrInvalidTransition = errors.New("invalid decision transition")
)
