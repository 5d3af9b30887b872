package tooltip

import (
	"testing"

	"raicat/internal/model"
)

func TestSingle(t *testing.T) {
	tests := []struct {
		v    model.Value
		unit string
		want string
	}{
		{model.Some(42), "ms", "Israel: 42ms"},
		{model.None(), "ms", "Israel: NA"},
		{model.Some(37.126), "ms", "Israel: 37.13ms"},
		{model.Some(12.5), "%", "Israel: 12.5%"},
		{model.Some(0), "%", "Israel: 0%"},
	}
	for _, tt := range tests {
		if got := Single("Israel", tt.v, tt.unit); got != tt.want {
			t.Errorf("Single(%+v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestComparison(t *testing.T) {
	got := Comparison("Israel", model.Some(42), model.Some(40.5), "ms")
	want := "Israel:\nref: 42ms\ncmp: 40.5ms"
	if got != want {
		t.Fatalf("Comparison = %q, want %q", got, want)
	}

	got = Comparison("Israel", model.Some(42), model.None(), "ms")
	want = "Israel:\nref: 42ms\ncmp: NA"
	if got != want {
		t.Fatalf("Comparison with missing cmp = %q, want %q", got, want)
	}
}

func TestFormatDispatch(t *testing.T) {
	if got := Format(ModeSingle, "X", model.Some(1), model.Some(2), "ms"); got != "X: 1ms" {
		t.Errorf("single = %q", got)
	}
	if got := Format(ModeComparison, "X", model.Some(1), model.Some(2), "ms"); got != "X:\nref: 1ms\ncmp: 2ms" {
		t.Errorf("comparison = %q", got)
	}
}
