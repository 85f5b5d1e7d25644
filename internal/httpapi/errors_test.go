package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inferd/internal/gateway"
)

func TestStatusForErrFallbacks(t *testing.T) {
	if got := statusForErr(errors.New("mystery")); got != http.StatusInternalServerError {
		t.Fatalf("unknown error = %d", got)
	}
	if got := statusForErr(gateway.ErrCancelled("id")); got != 499 {
		t.Fatalf("cancelled = %d", got)
	}
}

func TestWriteErrorUsesReasonCode(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, gateway.ErrQueueFull())
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %s", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"reason":"queue_full"`) || !strings.Contains(body, `"code":429`) {
		t.Fatalf("body = %s", body)
	}
}

func TestWriteErrorPlainError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, errors.New("boom"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"reason":"internal"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}
