package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors forming the client error taxonomy. Call sites classify
// with errors.Is; user-facing messages are derived separately so transport
// detail never leaks into the UI.
var (
	// ErrInvalidCredentials indicates a rejected login attempt. It never
	// changes session state.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUnauthorized indicates the backend rejected the bearer credential.
	// It triggers the global expiry path and is never surfaced as a normal
	// form error.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNetworkUnavailable indicates the request could not reach the
	// backend at all.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrServerDegraded indicates the backend answered but could not serve
	// the request (5xx, missing endpoint).
	ErrServerDegraded = errors.New("server degraded")

	// ErrNotAuthenticated indicates an action that requires a session was
	// attempted without one.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFavorited indicates a removal was requested for a pair the
	// registry does not hold.
	ErrNotFavorited = errors.New("item is not favorited")
)

// StatusError carries an HTTP status alongside a classified sentinel so
// callers can both classify (errors.Is) and inspect the raw status.
type StatusError struct {
	Status int
	Kind   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %d)", e.Kind, e.Status)
}

// Unwrap exposes the classified sentinel to errors.Is.
func (e *StatusError) Unwrap() error {
	return e.Kind
}

// ClassifyStatus maps an HTTP response status to the error taxonomy.
// It returns nil for success statuses.
func ClassifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &StatusError{Status: status, Kind: ErrUnauthorized}
	case status == http.StatusNotFound, status >= 500:
		return &StatusError{Status: status, Kind: ErrServerDegraded}
	default:
		return &StatusError{Status: status, Kind: ErrServerDegraded}
	}
}

// ClassifyTransport maps a transport-level failure (no HTTP response) to the
// taxonomy. Context cancellation passes through unchanged so callers can
// distinguish deliberate aborts from connectivity loss.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
}

// Recoverable reports whether a revalidation failure should fall back to the
// cached identity rather than clearing the session. Unreachable or degraded
// backends are recoverable; an explicit credential rejection is not.
func Recoverable(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrServerDegraded)
}

// UserMessage converts a classified error into a short message suitable for
// inline display. Authorization failures return an empty string because the
// global expiry path owns their surfacing.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrNotAuthenticated):
		return "Please log in to continue."
	case errors.Is(err, ErrNetworkUnavailable):
		return "Could not reach the server. Check your connection."
	case errors.Is(err, ErrServerDegraded):
		return "Something went wrong on our side. Try again shortly."
	default:
		return "Something went wrong. Try again shortly."
	}
}
