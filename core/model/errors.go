package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrPermissionDenied  = errors.New("location permission denied")
	ErrSignalUnavailable = errors.New("location signal unavailable")
	ErrRequestTimeout    = errors.New("request timeout")
	// ErrNetworkFailure is recoverable and triggers buffering.
	ErrNetworkFailure    = errors.New("network failure")
	ErrValidationFailure = errors.New("validation failure")
	ErrCooldownActive    = errors.New("emergency cooldown active")
	// ErrStaleOffer marks a superseded offer; callers ignore it silently.
	ErrStaleOffer = errors.New("stale offer")

	ErrOfferPending   = errors.New("offer already pending")
	ErrNoOffer        = errors.New("no pending offer")
	ErrSessionActive  = errors.New("tracking session already active")
	ErrNotTracking    = errors.New("tracking not active")
	ErrTriggerBusy    = errors.New("emergency trigger busy")
	ErrAlreadyStarted = errors.New("sampler already started")
)

// SamplerError is surfaced to the UI when the geolocation source reports a problem.
type SamplerError struct {
	Kind error
	Err  error
}

func (e *SamplerError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	if errors.Is(e.Err, e.Kind) {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *SamplerError) Unwrap() []error { return []error{e.Kind, e.Err} }

// ClassifySamplerError maps an arbitrary source error onto the sampler taxonomy.
// Unknown errors are treated as signal loss.
func ClassifySamplerError(err error) *SamplerError {
	var se *SamplerError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return &SamplerError{Kind: ErrPermissionDenied, Err: err}
	case errors.Is(err, ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return &SamplerError{Kind: ErrRequestTimeout, Err: err}
	default:
		return &SamplerError{Kind: ErrSignalUnavailable, Err: err}
	}
}

// CooldownError reports a refused emergency trigger.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("emergency cooldown active, retry in %s", e.Remaining.Round(time.Second))
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

// SubmissionError reports a failed SOS submission. Fallback tells the user what
// to do instead.
type SubmissionError struct {
	Err      error
	Fallback string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("emergency submission failed: %v (%s)", e.Err, e.Fallback)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
