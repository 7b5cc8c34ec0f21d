package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/glothriel/airlink/pkg/ble"
	"github.com/glothriel/airlink/pkg/chunked"
	"github.com/glothriel/airlink/pkg/relay"
)

// ErrorClass tells the UI which kind of failure ended an attempt
type ErrorClass string

const (
	// ClassLink - the link was lost or an endpoint could not be used
	ClassLink ErrorClass = "link"
	// ClassBackend - the backend was unreachable or rejected the exchange
	ClassBackend ErrorClass = "backend"
	// ClassPayload - the device or the backend sent a malformed or oversized payload
	ClassPayload ErrorClass = "payload"
	// ClassTimeout - the device did not report an encrypted link in time
	ClassTimeout ErrorClass = "timeout"
	// ClassCanceled - the attempt was canceled by the caller
	ClassCanceled ErrorClass = "canceled"
)

var (
	// ErrPinTimeout is returned when the link did not become encrypted after the PIN was shown
	ErrPinTimeout = errors.New("timed out waiting for the PIN to be entered")
	// ErrMalformedIndicator is returned when the encrypted indicator is not a single byte
	ErrMalformedIndicator = errors.New("malformed encryption indicator")
)

// Error is returned by a failed pairing attempt
type Error struct {
	Class ErrorClass
	State State // state the attempt was in when it failed
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pairing failed in state %s (%s error): %v", e.State, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify returns the class of an error returned by Machine.Pair
func Classify(err error) ErrorClass {
	var pairingErr *Error
	if errors.As(err, &pairingErr) {
		return pairingErr.Class
	}
	return classOf(context.Background(), err)
}

func classOf(ctx context.Context, err error) ErrorClass {
	var backendErr *relay.BackendError
	switch {
	case errors.Is(context.Cause(ctx), ble.ErrDisconnected), errors.Is(err, ble.ErrDisconnected):
		return ClassLink
	case ctx.Err() != nil:
		return ClassCanceled
	case errors.Is(err, chunked.ErrMalformedLength),
		errors.Is(err, chunked.ErrMessageTooLarge),
		errors.Is(err, relay.ErrMalformedPayload),
		errors.Is(err, ErrMalformedIndicator):
		return ClassPayload
	case errors.As(err, &backendErr):
		return ClassBackend
	case errors.Is(err, ErrPinTimeout):
		return ClassTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	default:
		return ClassLink
	}
}
