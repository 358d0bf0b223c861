package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelMatching(t *testing.T) {
	err := UnknownSensor("ingest.append", 42)
	if !errors.Is(err, ErrUnknownSensor) {
		t.Error("UnknownSensor should match ErrUnknownSensor")
	}
	if errors.Is(err, ErrUnknownShelter) {
		t.Error("UnknownSensor must not match ErrUnknownShelter")
	}

	wrapped := fmt.Errorf("handler: %w", err)
	if !errors.Is(wrapped, ErrUnknownSensor) {
		t.Error("sentinel must survive fmt.Errorf wrapping")
	}

	var pe *PlatformError
	if !errors.As(wrapped, &pe) {
		t.Fatal("errors.As should find the PlatformError")
	}
	if pe.SensorID != 42 || pe.Kind != KindUnknownSensor {
		t.Errorf("PlatformError = %+v", pe)
	}
}

func TestErrorMessageIncludesIdentity(t *testing.T) {
	if got := UnknownSensor("op", 7).Error(); got != "op failed for sensor 7: unknown sensor" {
		t.Errorf("sensor message = %q", got)
	}
	if got := UnknownShelter("op", 9).Error(); got != "op failed for shelter 9: unknown shelter" {
		t.Errorf("shelter message = %q", got)
	}
	if got := UnknownAlert("op", "a-1").Error(); got != "op failed for alert a-1: unknown alert" {
		t.Errorf("alert message = %q", got)
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(WrapBackend("timestore.append", errors.New("db locked"))) {
		t.Error("backend faults should be retryable")
	}
	if !IsRetryableError(New(KindConflict, "shelter.capacity", nil)) {
		t.Error("version conflicts should be retryable")
	}
	if IsRetryableError(UnknownSensor("ingest.append", 1)) {
		t.Error("unknown sensor is not retryable")
	}
	if IsRetryableError(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown sensor", UnknownSensor("op", 1), 404},
		{"unknown shelter", UnknownShelter("op", 1), 404},
		{"unknown alert", UnknownAlert("op", "a"), 404},
		{"no path", New(KindNoPath, "route.plan", nil), 404},
		{"out of range", New(KindOutOfRange, "ingest.append", nil), 422},
		{"validation", New(KindValidation, "ingest.append", nil), 422},
		{"stale append", New(KindStaleAppend, "ingest.append", nil), 422},
		{"rate limited", New(KindRateLimited, "ingest.append", nil), 429},
		{"conflict", New(KindConflict, "shelter.capacity", nil), 409},
		{"backend", WrapBackend("op", errors.New("down")), 503},
		{"wrapped sentinel", fmt.Errorf("ctx: %w", ErrRateLimited), 429},
		{"bare sentinel", ErrConflict, 409},
		{"unclassified", errors.New("boom"), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
