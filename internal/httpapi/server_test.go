package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inferd/internal/backend"
	"inferd/internal/gateway"
	"inferd/pkg/types"
)

type mockService struct {
	generate func(ctx context.Context, req types.GenerateRequest, sink gateway.Sink) error
	models   []types.ModelStatus
	preload  func(name string) (string, error)
	cancelFn func(id string) bool
	health   string
}

func (m *mockService) Generate(ctx context.Context, req types.GenerateRequest, sink gateway.Sink) error {
	if m.generate != nil {
		return m.generate(ctx, req, sink)
	}
	return nil
}

func (m *mockService) Models() []types.ModelStatus { return m.models }

func (m *mockService) Preload(name string) (string, error) {
	if m.preload != nil {
		return m.preload(name)
	}
	return "loading", nil
}

func (m *mockService) Cancel(id string) bool {
	if m.cancelFn != nil {
		return m.cancelFn(id)
	}
	return false
}

func (m *mockService) Status() types.StatusResponse {
	return types.StatusResponse{State: m.Health()}
}

func (m *mockService) Health() string {
	if m.health == "" {
		return "ready"
	}
	return m.health
}

func (m *mockService) Ready() bool { return m.Health() != "unhealthy" }

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	h := NewMux(&mockService{health: "degraded"})
	rr := doJSON(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var hr types.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &hr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hr.Status != "degraded" {
		t.Fatalf("health = %s", hr.Status)
	}
}

func TestModelsEndpoint(t *testing.T) {
	h := NewMux(&mockService{models: []types.ModelStatus{
		{Name: "tiny-q4", State: "loaded"},
		{Name: "big-q8", State: "unloaded"},
	}})
	rr := doJSON(t, h, http.MethodGet, "/models", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var mr types.ModelsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &mr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(mr.Models) != 2 || mr.Models[0].Name != "tiny-q4" {
		t.Fatalf("models = %+v", mr.Models)
	}
}

func TestLoadEndpoint(t *testing.T) {
	svc := &mockService{preload: func(name string) (string, error) {
		switch name {
		case "tiny-q4":
			return "loading", nil
		case "resident":
			return "loaded", nil
		default:
			return "", gateway.ErrUnknownModel(name)
		}
	}}
	h := NewMux(svc)

	rr := doJSON(t, h, http.MethodPost, "/models/tiny-q4/load", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("loading status = %d", rr.Code)
	}
	var lr types.LoadResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &lr)
	if lr.Model != "tiny-q4" || lr.State != "loading" {
		t.Fatalf("load response = %+v", lr)
	}

	rr = doJSON(t, h, http.MethodPost, "/models/resident/load", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("already loaded status = %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/models/missing/load", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown model status = %d", rr.Code)
	}
	var er types.ErrorResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &er)
	if er.Reason != gateway.ReasonUnknownModel {
		t.Fatalf("reason = %s", er.Reason)
	}
}

func TestCancelEndpoint(t *testing.T) {
	svc := &mockService{cancelFn: func(id string) bool { return id == "known" }}
	h := NewMux(svc)

	if rr := doJSON(t, h, http.MethodPost, "/requests/known/cancel", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("cancel known = %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodPost, "/requests/other/cancel", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown = %d", rr.Code)
	}
}

func TestStatusAndMetricsEndpoints(t *testing.T) {
	h := NewMux(&mockService{})
	if rr := doJSON(t, h, http.MethodGet, "/status", ""); rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodGet, "/metrics", ""); rr.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rr.Code)
	}
}

func TestGenerateRequiresJSON(t *testing.T) {
	h := NewMux(&mockService{})
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"hi"}`))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestGenerateRejectsMalformedBody(t *testing.T) {
	h := NewMux(&mockService{})
	rr := doJSON(t, h, http.MethodPost, "/generate", `{"prompt":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	var er types.ErrorResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &er)
	if er.Reason != gateway.ReasonInvalidRequest {
		t.Fatalf("reason = %s", er.Reason)
	}
}

func TestGenerateBuffered(t *testing.T) {
	svc := &mockService{generate: func(ctx context.Context, req types.GenerateRequest, sink gateway.Sink) error {
		_ = sink.Write("hello ")
		_ = sink.Write("world")
		return sink.End(backend.Result{Tokens: 2, FinishReason: "stop"})
	}}
	h := NewMux(svc)

	rr := doJSON(t, h, http.MethodPost, "/generate", `{"prompt":"hi","model":"tiny-q4"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var gr types.GenerateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &gr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gr.Text != "hello world" || gr.Model != "tiny-q4" || gr.Tokens != 2 {
		t.Fatalf("response = %+v", gr)
	}
}

func TestGenerateStreamingNDJSON(t *testing.T) {
	svc := &mockService{generate: func(ctx context.Context, req types.GenerateRequest, sink gateway.Sink) error {
		for _, tok := range []string{"he", "llo"} {
			if err := sink.Write(tok); err != nil {
				return err
			}
		}
		return sink.End(backend.Result{Text: "hello", Tokens: 2, FinishReason: "stop"})
	}}
	h := NewMux(svc)

	rr := doJSON(t, h, http.MethodPost, "/generate", `{"prompt":"hi","model":"tiny-q4","stream":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 NDJSON lines, got %d: %q", len(lines), lines)
	}
	var c1, c2 types.TokenChunk
	if err := json.Unmarshal([]byte(lines[0]), &c1); err != nil || c1.Token != "he" {
		t.Fatalf("line 1: %q err=%v", lines[0], err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &c2); err != nil || c2.Token != "llo" {
		t.Fatalf("line 2: %q err=%v", lines[1], err)
	}
	var end types.StreamEnd
	if err := json.Unmarshal([]byte(lines[2]), &end); err != nil {
		t.Fatalf("end marker: %v", err)
	}
	if !end.Done || end.Text != "hello" || end.Tokens != 2 || end.FinishReason != "stop" {
		t.Fatalf("end = %+v", end)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{gateway.ErrQueueFull(), http.StatusTooManyRequests, gateway.ReasonQueueFull},
		{gateway.ErrInvalidRequest("bad"), http.StatusBadRequest, gateway.ReasonInvalidRequest},
		{gateway.ErrUnknownModel("x"), http.StatusBadRequest, gateway.ReasonUnknownModel},
		{gateway.ErrRequestTimeout("id"), http.StatusGatewayTimeout, gateway.ReasonRequestTimeout},
		{gateway.ErrBackendCrashed("boom"), http.StatusBadGateway, gateway.ReasonBackendCrashed},
		{gateway.ErrModelLoadFailed("x", "oom"), http.StatusBadGateway, gateway.ReasonModelLoadFailed},
	}
	for _, tc := range cases {
		svc := &mockService{generate: func(ctx context.Context, req types.GenerateRequest, sink gateway.Sink) error {
			return tc.err
		}}
		h := NewMux(svc)
		rr := doJSON(t, h, http.MethodPost, "/generate", `{"prompt":"hi"}`)
		if rr.Code != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, rr.Code, tc.status)
		}
		var er types.ErrorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &er); err != nil {
			t.Fatalf("%v: decode: %v", tc.err, err)
		}
		if er.Reason != tc.reason || er.Code != tc.status {
			t.Fatalf("%v: body = %+v", tc.err, er)
		}
	}
}

func TestStreamingErrorAfterFirstChunkLeavesStreamIntact(t *testing.T) {
	// once tokens have been written, a late failure cannot be turned into a
	// JSON error; the stream just ends without a done marker
	svc := &mockService{generate: func(ctx context.Context, req types.GenerateRequest, sink gateway.Sink) error {
		_ = sink.Write("tok")
		return gateway.ErrBackendCrashed("died mid-stream")
	}}
	h := NewMux(svc)
	rr := doJSON(t, h, http.MethodPost, "/generate", `{"prompt":"hi","stream":true}`)
	body := strings.TrimSpace(rr.Body.String())
	lines := strings.Split(body, "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the streamed chunk, got %q", body)
	}
	var c types.TokenChunk
	if err := json.Unmarshal([]byte(lines[0]), &c); err != nil || c.Token != "tok" {
		t.Fatalf("line: %q err=%v", lines[0], err)
	}
}
