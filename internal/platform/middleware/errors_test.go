package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medequip/dmeflow/internal/platform/workflow"
)

func handle(t *testing.T, err error) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/cases/abc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(zerolog.Nop())(err, c)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return rec.Code, body
}

func TestErrorHandlerTypedErrors(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantKind   string
	}{
		{workflow.NotFound("case", "abc"), http.StatusNotFound, "not_found"},
		{workflow.Forbidden("case", "no"), http.StatusForbidden, "forbidden"},
		{workflow.InvalidTransition("case", "DRAFT", "PAID"), http.StatusConflict, "invalid_transition"},
		{workflow.Conflict("quote", "already active"), http.StatusConflict, "conflict"},
		{workflow.ValidationFailed("quote", "empty"), http.StatusUnprocessableEntity, "validation_failed"},
		{workflow.Expired("quote", "window passed"), http.StatusGone, "expired"},
		{workflow.ExceedsBalance("claim", "over"), http.StatusUnprocessableEntity, "exceeds_balance"},
	}
	for _, tc := range cases {
		status, body := handle(t, tc.err)
		if status != tc.wantStatus {
			t.Errorf("%v: status = %d, want %d", tc.err, status, tc.wantStatus)
		}
		if body["kind"] != tc.wantKind {
			t.Errorf("%v: kind = %v, want %s", tc.err, body["kind"], tc.wantKind)
		}
		if body["error"] != tc.err.Error() {
			t.Errorf("%v: error = %v, want the typed message", tc.err, body["error"])
		}
	}
}

func TestErrorHandlerSuppressesInternalMessage(t *testing.T) {
	status, body := handle(t, fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused"))
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
	if _, ok := body["kind"]; ok {
		t.Error("internal errors must not carry a taxonomy kind")
	}
	msg, _ := body["error"].(string)
	if strings.Contains(msg, "10.0.0.5") {
		t.Errorf("internal detail leaked: %q", msg)
	}
	if msg != http.StatusText(http.StatusInternalServerError) {
		t.Errorf("error = %q, want generic status text", msg)
	}
}

func TestErrorHandlerEchoPassthrough(t *testing.T) {
	status, body := handle(t, echo.NewHTTPError(http.StatusBadRequest, "invalid id"))
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
	if body["error"] != "invalid id" {
		t.Errorf("error = %v, want the handler message", body["error"])
	}
}
