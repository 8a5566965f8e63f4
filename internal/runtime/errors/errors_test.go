package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestSentinelErrorsArePrefixed(t *testing.T) {
	sentinels := []error{
		ErrClientRequired,
		ErrHandlerRequired,
		ErrConsumeQueueRequired,
		ErrHandlerNameRequired,
		ErrConsumeMessageTypeRequired,
		ErrConsumeMessagePointerNeeded,
		ErrKindRequired,
		ErrRoutingKeyRequired,
		ErrConfigRequired,
		ErrLoggerRequired,
		ErrEventPayloadRequired,
		ErrHandlerAlreadyRegistered,
		ErrKindConflict,
		ErrAlreadyStarted,
		ErrClientClosed,
		ErrConnectionUnavailable,
		ErrProviderClosed,
		ErrPublishNacked,
	}

	seen := make(map[string]struct{}, len(sentinels))
	for _, err := range sentinels {
		msg := err.Error()
		if !strings.HasPrefix(msg, "narrator: ") {
			t.Errorf("expected narrator prefix, got %q", msg)
		}
		if _, dup := seen[msg]; dup {
			t.Errorf("duplicate sentinel message %q", msg)
		}
		seen[msg] = struct{}{}
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "narrator: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatal("expected ConfigValidationError")
		}
		if !errors.Is(err, inner) {
			t.Error("expected wrapped error to be reachable")
		}
	})
}
