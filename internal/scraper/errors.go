package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Sentinels for the three failure kinds surfaced to callers. Match them with
// errors.Is; the concrete value is always an *Error.
var (
	ErrCommunication  = errors.New("communication error")
	ErrAuthentication = errors.New("authentication error")
	ErrBadRequest     = errors.New("bad request")
)

// Kind labels, also used as metric labels
const (
	KindCommunication  = "communication"
	KindAuthentication = "authentication"
	KindBadRequest     = "bad_request"
)

// Error is a classified failure of a single scraper request
type Error struct {
	Kind string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("scraper %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	switch target {
	case ErrCommunication:
		return e.Kind == KindCommunication
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrBadRequest:
		return e.Kind == KindBadRequest
	}
	return false
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// KindOf returns the kind label of err, or "other" for errors that did not
// come from this package.
func KindOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return "other"
}

// classify maps a transport failure onto the error taxonomy. Timeouts, DNS
// and connection failures are communication errors; everything else that
// reaches here is unexpected.
func classify(op string, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	kind := KindBadRequest
	var (
		netErr net.Error
		dnsErr *net.DNSError
		opErr  *net.OpError
		urlErr *url.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindCommunication
	case errors.As(err, &dnsErr), errors.As(err, &opErr):
		kind = KindCommunication
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindCommunication
	case errors.As(err, &urlErr):
		// Transport-level failure without a more specific cause (connection
		// reset, refused, closed by peer).
		kind = KindCommunication
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// statusError classifies a non-2xx response
func statusError(op string, status int) *Error {
	kind := KindBadRequest
	if status == 401 || status == 403 {
		kind = KindAuthentication
	}
	return &Error{Kind: kind, Op: op, Err: &StatusError{StatusCode: status}}
}
