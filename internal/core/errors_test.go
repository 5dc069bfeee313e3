package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatValidation,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatValidation, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := &DomainError{Category: ErrCatUpstream, Code: "X", Message: "msg"}
	err.WithDetail("k", "v")
	if err.Details == nil || err.Details["k"] != "v" {
		t.Fatalf("expected details to be set")
	}
}

func TestErrorFactories(t *testing.T) {
	if ErrValidation("C", "m").Retryable {
		t.Fatalf("validation should not be retryable")
	}
	if !ErrTimeout("m").Retryable {
		t.Fatalf("timeout should be retryable")
	}
	if !ErrTransientUpstream("m").Retryable {
		t.Fatalf("transient upstream should be retryable")
	}
	if ErrFatalUpstream("m").Retryable {
		t.Fatalf("fatal upstream should not be retryable")
	}
	if ErrAuth("m").Retryable {
		t.Fatalf("auth should not be retryable")
	}
	if ErrConflict(CodeDuplicateRun, "m").Retryable {
		t.Fatalf("conflict should not be retryable")
	}
}

func TestIsTransientUpstream(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", ErrTransientUpstream("503"), true},
		{"timeout", ErrTimeout("deadline"), true},
		{"wrapped transient", fmt.Errorf("poll: %w", ErrTransientUpstream("reset")), true},
		{"fatal", ErrFatalUpstream("404"), false},
		{"auth", ErrAuth("bad"), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientUpstream(tt.err); got != tt.want {
				t.Errorf("IsTransientUpstream() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCategory_NonDomainError(t *testing.T) {
	if got := GetCategory(errors.New("x")); got != ErrCatInternal {
		t.Fatalf("GetCategory() = %q, want %q", got, ErrCatInternal)
	}
	if !IsNotFound(ErrNotFound("run", "r1")) {
		t.Fatalf("expected not found")
	}
}
