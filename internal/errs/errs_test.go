package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", Invalid("start", "after end"), ClassValidation},
		{"wrapped validation", fmt.Errorf("set range: %w", Invalid("end", "in the future")), ClassValidation},
		{"transport", &TransportError{Op: "snapshot", Status: 502, Err: errors.New("bad gateway")}, ClassTransport},
		{"malformed", Malformed("series", "missing data", nil), ClassMalformed},
		{"canceled transport", &TransportError{Op: "snapshot", Err: context.Canceled}, ClassCanceled},
		{"other", errors.New("boom"), ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Class(tt.err); got != tt.want {
				t.Errorf("Class() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorStrings(t *testing.T) {
	if got := Invalid("date", "%s is in the future", "2030-01-01").Error(); got != "date: 2030-01-01 is in the future" {
		t.Errorf("validation message = %q", got)
	}
	te := &TransportError{Op: "snapshot", Status: 500, Err: errors.New("oops")}
	if got := te.Error(); got != "snapshot: status 500: oops" {
		t.Errorf("transport message = %q", got)
	}
	if !IsValidation(fmt.Errorf("x: %w", Invalid("", "empty"))) {
		t.Error("IsValidation should see through wrapping")
	}
}

func TestErrInactiveIsNotValidation(t *testing.T) {
	err := fmt.Errorf("series: %w", ErrInactive)
	if !errors.Is(err, ErrInactive) {
		t.Fatal("wrapped ErrInactive not detected")
	}
	if IsValidation(err) {
		t.Fatal("ErrInactive must not classify as validation")
	}
}
