package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error values. Callers match these with errors.Is regardless of how
// much context the error carries.
var (
	ErrUnknownSensor         = errors.New("unknown sensor")
	ErrUnknownShelter        = errors.New("unknown shelter")
	ErrUnknownAlert          = errors.New("unknown alert")
	ErrOutOfRange            = errors.New("value out of declared range")
	ErrRateLimited           = errors.New("rate limited")
	ErrStaleAppend           = errors.New("timestamp beyond closure horizon")
	ErrBackendUnavailable    = errors.New("backend unavailable")
	ErrEvaluationDeferred    = errors.New("evaluation deferred")
	ErrNoPath                = errors.New("no path between endpoints")
	ErrUnknownEndpoint       = errors.New("unknown route endpoint")
	ErrConflict              = errors.New("conflicting concurrent update")
	ErrPermanentNotification = errors.New("permanent notification failure")
	ErrInvalidInput          = errors.New("invalid input")
)

// Kind categorizes platform errors for propagation and HTTP mapping.
type Kind string

const (
	KindUnknownSensor         Kind = "unknown_sensor"
	KindUnknownShelter        Kind = "unknown_shelter"
	KindUnknownAlert          Kind = "unknown_alert"
	KindOutOfRange            Kind = "out_of_range"
	KindRateLimited           Kind = "rate_limited"
	KindStaleAppend           Kind = "stale_append"
	KindBackendUnavailable    Kind = "backend_unavailable"
	KindEvaluationDeferred    Kind = "evaluation_deferred"
	KindNoPath                Kind = "no_path"
	KindUnknownEndpoint       Kind = "unknown_endpoint"
	KindConflict              Kind = "conflict"
	KindPermanentNotification Kind = "permanent_notification"
	KindValidation            Kind = "validation"
)

// PlatformError is a structured error for platform operations.
type PlatformError struct {
	Kind      Kind
	Op        string // operation that failed (e.g. "timestore.append")
	SensorID  int64
	ShelterID int64
	AlertID   string
	Err       error
	Timestamp time.Time
	Retryable bool
}

func (e *PlatformError) Error() string {
	switch {
	case e.AlertID != "":
		return fmt.Sprintf("%s failed for alert %s: %v", e.Op, e.AlertID, e.Err)
	case e.ShelterID != 0:
		return fmt.Sprintf("%s failed for shelter %d: %v", e.Op, e.ShelterID, e.Err)
	case e.SensorID != 0:
		return fmt.Sprintf("%s failed for sensor %d: %v", e.Op, e.SensorID, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is so sentinel matching works through the structure.
func (e *PlatformError) Is(target error) bool {
	if target == nil {
		return false
	}
	if base, ok := sentinelFor(e.Kind); ok && target == base {
		return true
	}
	return errors.Is(e.Err, target)
}

func sentinelFor(k Kind) (error, bool) {
	switch k {
	case KindUnknownSensor:
		return ErrUnknownSensor, true
	case KindUnknownShelter:
		return ErrUnknownShelter, true
	case KindUnknownAlert:
		return ErrUnknownAlert, true
	case KindOutOfRange:
		return ErrOutOfRange, true
	case KindRateLimited:
		return ErrRateLimited, true
	case KindStaleAppend:
		return ErrStaleAppend, true
	case KindBackendUnavailable:
		return ErrBackendUnavailable, true
	case KindEvaluationDeferred:
		return ErrEvaluationDeferred, true
	case KindNoPath:
		return ErrNoPath, true
	case KindUnknownEndpoint:
		return ErrUnknownEndpoint, true
	case KindConflict:
		return ErrConflict, true
	case KindPermanentNotification:
		return ErrPermanentNotification, true
	case KindValidation:
		return ErrInvalidInput, true
	}
	return nil, false
}

// New creates a PlatformError of the given kind.
func New(kind Kind, op string, err error) *PlatformError {
	if err == nil {
		if base, ok := sentinelFor(kind); ok {
			err = base
		}
	}
	return &PlatformError{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: kindRetryable(kind),
	}
}

// WithSensor attaches the sensor identity to the error.
func (e *PlatformError) WithSensor(id int64) *PlatformError {
	e.SensorID = id
	return e
}

// WithShelter attaches the shelter identity to the error.
func (e *PlatformError) WithShelter(id int64) *PlatformError {
	e.ShelterID = id
	return e
}

// WithAlert attaches the alert identity to the error.
func (e *PlatformError) WithAlert(id string) *PlatformError {
	e.AlertID = id
	return e
}

func kindRetryable(k Kind) bool {
	switch k {
	case KindBackendUnavailable, KindConflict:
		return true
	default:
		return false
	}
}

// UnknownSensor builds the canonical rejection for an unregistered sensor.
func UnknownSensor(op string, id int64) error {
	return New(KindUnknownSensor, op, nil).WithSensor(id)
}

// UnknownShelter builds the canonical rejection for an unregistered shelter.
func UnknownShelter(op string, id int64) error {
	return New(KindUnknownShelter, op, nil).WithShelter(id)
}

// UnknownAlert builds the canonical rejection for a missing alert.
func UnknownAlert(op, id string) error {
	return New(KindUnknownAlert, op, nil).WithAlert(id)
}

// WrapBackend marks a storage/backend fault as retryable for the caller.
func WrapBackend(op string, err error) error {
	return New(KindBackendUnavailable, op, err)
}

// IsRetryableError reports whether the operation may be retried.
func IsRetryableError(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrConflict)
}

// HTTPStatus maps an error to the status code the API surface should emit.
func HTTPStatus(err error) int {
	var pe *PlatformError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindUnknownSensor, KindUnknownShelter, KindUnknownAlert, KindUnknownEndpoint:
			return 404
		case KindOutOfRange, KindValidation, KindStaleAppend:
			return 422
		case KindRateLimited:
			return 429
		case KindConflict:
			return 409
		case KindNoPath:
			return 404
		case KindBackendUnavailable:
			return 503
		}
	}
	switch {
	case errors.Is(err, ErrUnknownSensor), errors.Is(err, ErrUnknownShelter),
		errors.Is(err, ErrUnknownAlert), errors.Is(err, ErrUnknownEndpoint),
		errors.Is(err, ErrNoPath):
		return 404
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrStaleAppend),
		errors.Is(err, ErrInvalidInput):
		return 422
	case errors.Is(err, ErrRateLimited):
		return 429
	case errors.Is(err, ErrConflict):
		return 409
	case errors.Is(err, ErrBackendUnavailable):
		return 503
	}
	return 500
}
