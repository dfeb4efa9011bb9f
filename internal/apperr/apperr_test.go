package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFrom_PassesThrough(t *testing.T) {
	orig := AppNotFound("shop")
	got := From(fmt.Errorf("wrapped: %w", orig))
	if got.Code != CodeAppNotFound {
		t.Errorf("code = %d, want %d", got.Code, CodeAppNotFound)
	}
}

func TestFrom_CoercesUnknown(t *testing.T) {
	got := From(errors.New("boom"))
	if got.Code != CodeInternal || got.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("coerced = %+v", got)
	}
	if got.Unwrap() == nil {
		t.Error("cause dropped")
	}
}

func TestWithDetail(t *testing.T) {
	e := Invalid("bad").WithDetail("field", "slug").WithDetail("len", 2)
	if e.Details["field"] != "slug" || e.Details["len"] != 2 {
		t.Errorf("details = %v", e.Details)
	}
}

func TestErrorString(t *testing.T) {
	e := Wrap(CodeCloneFailed, "git clone failed", 500, errors.New("exit 128"))
	want := "[6001] git clone failed: exit 128"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{Unauthorized("x"), http.StatusUnauthorized},
		{Forbidden("x"), http.StatusForbidden},
		{RateLimited(), http.StatusTooManyRequests},
		{InvalidSlug("x"), http.StatusBadRequest},
		{PayloadTooBig(1), http.StatusRequestEntityTooLarge},
		{AppNotFound("x"), http.StatusNotFound},
		{AppExists("x"), http.StatusConflict},
		{Timeout("x"), http.StatusRequestTimeout},
		{Upstream(errors.New("x")), http.StatusBadGateway},
		{ShuttingDown(), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if tc.err.HTTPStatus != tc.status {
			t.Errorf("code %d maps to %d, want %d", tc.err.Code, tc.err.HTTPStatus, tc.status)
		}
	}
}
