package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusOK, nil},
		{http.StatusCreated, nil},
		{http.StatusNoContent, nil},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrServerDegraded},
		{http.StatusUnprocessableEntity, ErrServerDegraded},
		{http.StatusNotFound, ErrServerDegraded},
		{http.StatusInternalServerError, ErrServerDegraded},
		{http.StatusBadGateway, ErrServerDegraded},
	}

	for _, tt := range tests {
		got := ClassifyStatus(tt.status)
		if tt.want == nil {
			if got != nil {
				t.Errorf("status %d: got %v, want nil", tt.status, got)
			}
			continue
		}
		if !errors.Is(got, tt.want) {
			t.Errorf("status %d: got %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestClassifyStatus_NeverInvalidCredentials(t *testing.T) {
	// The credentials mapping belongs to the login call site; the shared
	// classifier must not surface "Invalid email or password." for a
	// validation rejection on some other endpoint.
	for _, status := range []int{http.StatusForbidden, http.StatusUnprocessableEntity} {
		if errors.Is(ClassifyStatus(status), ErrInvalidCredentials) {
			t.Errorf("status %d must not classify as invalid credentials", status)
		}
	}
}

func TestStatusError_ExposesStatus(t *testing.T) {
	err := ClassifyStatus(http.StatusBadGateway)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T", err)
	}
	if se.Status != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", se.Status)
	}
}

func TestClassifyTransport_NetworkError(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	got := ClassifyTransport(opErr)
	if !errors.Is(got, ErrNetworkUnavailable) {
		t.Errorf("got %v, want ErrNetworkUnavailable", got)
	}
}

func TestClassifyTransport_ContextPassesThrough(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	got := ClassifyTransport(ctx.Err())
	if !errors.Is(got, context.DeadlineExceeded) {
		t.Errorf("got %v, want DeadlineExceeded", got)
	}
	if errors.Is(got, ErrNetworkUnavailable) {
		t.Error("context errors must not classify as network unavailable")
	}
}

func TestRecoverable(t *testing.T) {
	if !Recoverable(ClassifyStatus(http.StatusServiceUnavailable)) {
		t.Error("5xx should be recoverable for revalidation")
	}
	if !Recoverable(ClassifyStatus(http.StatusNotFound)) {
		t.Error("missing endpoint should be recoverable for revalidation")
	}
	if Recoverable(ClassifyStatus(http.StatusUnauthorized)) {
		t.Error("explicit rejection must not be recoverable")
	}
}

func TestUserMessage(t *testing.T) {
	if msg := UserMessage(ErrUnauthorized); msg != "" {
		t.Errorf("unauthorized should surface nothing, got %q", msg)
	}
	if msg := UserMessage(ErrInvalidCredentials); msg == "" {
		t.Error("invalid credentials should surface a message")
	}
	if msg := UserMessage(ErrNotAuthenticated); msg == "" {
		t.Error("not authenticated should surface a message")
	}
}
