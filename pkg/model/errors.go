package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is returned when a lookup misses and no fallback applies
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned when a durable write is not acknowledged as successful
	ErrValidation = errors.New("write not acknowledged")
	// ErrDelivery is returned when a sender rejects a queued update
	ErrDelivery = errors.New("delivery failed")
	// ErrCleanup is returned when a delivered update cannot be removed from the queue
	ErrCleanup = errors.New("failed to remove delivered update")
	// ErrReplication marks upstream replication failures
	ErrReplication = errors.New("replication failed")
	// ErrNoReplication is returned when replication events are requested but none is active
	ErrNoReplication = errors.New("no active replication")
	// ErrClosed is returned when a component is used after Close
	ErrClosed = errors.New("closed")
	// ErrCanceled is returned when the operation is canceled by the client
	ErrCanceled = errors.New("operation canceled")
)

// LookupError reports a cache miss for a URI.
// It matches both ErrNotFound and the underlying store error.
type LookupError struct {
	URI    string
	Status int
	Cause  error
}

// NewLookupError returns a 404 LookupError for uri.
func NewLookupError(uri string, cause error) *LookupError {
	return &LookupError{URI: uri, Status: http.StatusNotFound, Cause: cause}
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("couldn't find cache entry for URI '%s'", e.URI)
}

func (e *LookupError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrNotFound}
	}
	return []error{ErrNotFound, e.Cause}
}

// ValidationError reports a durable write that the store did not confirm.
type ValidationError struct {
	Op    string
	ID    string
	Cause error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to %s %q: store returned not ok: %v", e.Op, e.ID, e.Cause)
	}
	return fmt.Sprintf("failed to %s %q: store returned not ok", e.Op, e.ID)
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Cause}
}

// DeliveryError reports a sender failure for one queued update.
// The update stays queued.
type DeliveryError struct {
	SortKey int64
	Update  interface{}
	Cause   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver update #%d: %v", e.SortKey, e.Cause)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Cause}
}

// CleanupError reports an update that was delivered but could not be
// removed from the queue. The next drain will deliver it again.
type CleanupError struct {
	SortKey int64
	Update  interface{}
	Cause   error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to remove update #%d after it was successfully sent: %v", e.SortKey, e.Cause)
}

func (e *CleanupError) Unwrap() []error {
	return []error{ErrCleanup, e.Cause}
}

// HTTPStatus maps an error to the status code reported to HTTP clients.
func HTTPStatus(err error) int {
	var lookup *LookupError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &lookup):
		return lookup.Status
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrDelivery), errors.Is(err, ErrCleanup):
		return http.StatusBadGateway
	case errors.Is(err, ErrNoReplication), errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	case IsCanceled(err):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// WrapError converts context.Canceled and context.DeadlineExceeded to ErrCanceled.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
// It checks both direct context errors and wrapped errors (e.g., from the MongoDB driver).
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded")
}

// FatalError marks a delivery failure that a retry cannot fix, such as a 4xx
// response. The update still stays queued.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal checks if an error is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
