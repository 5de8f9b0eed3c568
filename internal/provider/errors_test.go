package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/TobiSchelling/videodigest/internal/retry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Class
	}{
		{"quota", fmt.Errorf("search: %w", ErrQuotaExceeded), retry.Terminal},
		{"not available", ErrNotAvailable, retry.Terminal},
		{"malformed", fmt.Errorf("decode: %w", ErrMalformedResponse), retry.Terminal},
		{"rejected", ErrRejected, retry.Terminal},
		{"canceled", context.Canceled, retry.Terminal},
		{"transient", Transient("search", errors.New("503")), retry.Retryable},
		{"unknown", errors.New("boom"), retry.Retryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransientUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := Transient("stats", inner)
	if !errors.Is(err, inner) {
		t.Error("TransientError should unwrap to its cause")
	}
	var te *TransientError
	if !errors.As(err, &te) || te.Op != "stats" {
		t.Errorf("errors.As = %v, op %q", te, te.Op)
	}
}
