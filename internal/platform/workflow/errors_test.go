package workflow

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NotFound("case", "abc"), http.StatusNotFound},
		{Forbidden("case", "no"), http.StatusForbidden},
		{InvalidTransition("case", "DRAFT", "PAID"), http.StatusConflict},
		{Conflict("quote", "already active"), http.StatusConflict},
		{ValidationFailed("quote", "empty"), http.StatusUnprocessableEntity},
		{Expired("quote", "window passed"), http.StatusGone},
		{ExceedsBalance("claim", "over"), http.StatusUnprocessableEntity},
		{fmt.Errorf("pool exhausted"), http.StatusInternalServerError},
		{fmt.Errorf("wrap: %w", NotFound("claim", "x")), http.StatusNotFound},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Conflict("device", "dup")); got != KindConflict {
		t.Errorf("KindOf typed = %q, want %q", got, KindConflict)
	}
	if got := KindOf(fmt.Errorf("plain")); got != "" {
		t.Errorf("KindOf untyped = %q, want empty", got)
	}
	if got := KindOf(fmt.Errorf("wrap: %w", Expired("quote", "old"))); got != KindExpired {
		t.Errorf("KindOf wrapped = %q, want %q", got, KindExpired)
	}
}

func TestInvalidTransitionMessage(t *testing.T) {
	err := InvalidTransition("ticket", "OPEN", "RESOLVED")
	want := "ticket: invalid transition OPEN -> RESOLVED"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
