package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/TobiSchelling/videodigest/internal/retry"
)

var (
	// ErrQuotaExceeded is terminal and global: no new provider work starts
	// once it has been seen.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrNotAvailable is an expected absence, such as a video without captions.
	ErrNotAvailable = errors.New("not available")
	// ErrMalformedResponse means the provider answered with something that
	// could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrRejected means the provider refused the request as invalid.
	ErrRejected = errors.New("request rejected")
)

// TransientError wraps a failure that is expected to clear on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Classify sorts provider errors into retryable and terminal.
func Classify(err error) retry.Class {
	switch {
	case err == nil:
		return retry.Terminal
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Terminal
	case errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, ErrNotAvailable),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrRejected):
		return retry.Terminal
	}

	var te *TransientError
	if errors.As(err, &te) {
		return retry.Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Retryable
	}
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return retry.Retryable
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return retry.Retryable
	}
	return retry.Retryable
}
