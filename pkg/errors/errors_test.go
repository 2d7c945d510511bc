package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("deleting: %w", ErrNotFound), http.StatusNotFound},
		{"encoding", ErrEncoding, http.StatusBadRequest},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"invalid state", ErrInvalidState, http.StatusConflict},
		{"queue", Wrap(ErrQueueUnavailable, errors.New("dial tcp: refused"), "pushing task"), http.StatusServiceUnavailable},
		{"persistence", Wrap(ErrPersistence, errors.New("conn reset"), "inserting article"), http.StatusInternalServerError},
		{"app error", New(ErrNotFound, http.StatusGone, "gone"), http.StatusGone},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatusCode(tc.err); got != tc.want {
				t.Errorf("HTTPStatusCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrQueueUnavailable, cause, "pushing task")
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Error("expected sentinel to match")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to match")
	}
	if errors.Is(err, ErrPersistence) {
		t.Error("unexpected match on ErrPersistence")
	}
}
