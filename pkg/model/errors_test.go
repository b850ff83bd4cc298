package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCanceled(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context.Canceled", context.Canceled, true},
		{"context.DeadlineExceeded", context.DeadlineExceeded, true},
		{"ErrCanceled", ErrCanceled, true},
		{"wrapped context.Canceled", fmt.Errorf("wrapped: %w", context.Canceled), true},
		{"string contains context canceled", errors.New("operation failed: context canceled"), true},
		{"unrelated error", errors.New("some other error"), false},
		{"ErrNotFound", ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsCanceled(tt.err))
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil))
	assert.Equal(t, ErrCanceled, WrapError(context.Canceled))
	other := errors.New("other")
	assert.Equal(t, other, WrapError(other))
}

func TestLookupError(t *testing.T) {
	cause := fmt.Errorf("%w: missing", ErrNotFound)
	err := NewLookupError("/not-found", cause)

	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.Contains(t, err.Error(), "/not-found")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, cause)

	bare := NewLookupError("/x", nil)
	assert.ErrorIs(t, bare, ErrNotFound)
}

func TestQueueErrors(t *testing.T) {
	cause := errors.New("boom")

	delivery := &DeliveryError{SortKey: 3, Update: "u", Cause: cause}
	assert.ErrorIs(t, delivery, ErrDelivery)
	assert.ErrorIs(t, delivery, cause)
	assert.NotErrorIs(t, delivery, ErrCleanup)
	assert.Contains(t, delivery.Error(), "#3")

	cleanup := &CleanupError{SortKey: 4, Update: "u", Cause: cause}
	assert.ErrorIs(t, cleanup, ErrCleanup)
	assert.ErrorIs(t, cleanup, cause)
	assert.NotErrorIs(t, cleanup, ErrDelivery)
	assert.Contains(t, cleanup.Error(), "successfully sent")

	validation := &ValidationError{Op: "post", ID: "q1"}
	assert.ErrorIs(t, validation, ErrValidation)
	assert.Contains(t, validation.Error(), "not ok")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NewLookupError("/a", nil), http.StatusNotFound},
		{fmt.Errorf("x: %w", ErrNotFound), http.StatusNotFound},
		{&ValidationError{Op: "put"}, http.StatusUnprocessableEntity},
		{&DeliveryError{Cause: errors.New("x")}, http.StatusBadGateway},
		{&CleanupError{Cause: errors.New("x")}, http.StatusBadGateway},
		{ErrNoReplication, http.StatusServiceUnavailable},
		{fmt.Errorf("push: %w", ErrClosed), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusRequestTimeout},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err))
	}
}

func TestFatalError(t *testing.T) {
	base := errors.New("status 400")
	err := fmt.Errorf("wrapped: %w", &FatalError{Err: base})

	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "fatal error: status 400", (&FatalError{Err: base}).Error())
	assert.False(t, IsFatal(base))
	assert.False(t, IsFatal(nil))
}
