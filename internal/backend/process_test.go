package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testProcess builds a Process pointed at a fake runtime server, bypassing
// process spawning.
func testProcess(srv *httptest.Server, model string) *Process {
	return &Process{
		cfg:     ProcessConfig{Host: "127.0.0.1", ReadyTimeout: time.Second},
		log:     zerolog.Nop(),
		baseURL: srv.URL,
		model:   model,
		client:  srv.Client(),
	}
}

func ndjsonHandler(lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		f := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintln(w, l)
			f.Flush()
		}
	}
}

func TestGenerateStreamsChunksInOrder(t *testing.T) {
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		ndjsonHandler([]string{
			`{"response":"Hel"}`,
			``,
			`{"response":"lo"}`,
			`{"done":true,"done_reason":"stop","eval_count":2}`,
		})(w, r)
	}))
	defer srv.Close()

	p := testProcess(srv, "tiny-q4")
	var chunks []string
	res, err := p.Generate(context.Background(), Params{Prompt: "hi", MaxTokens: 16}, func(tok string) error {
		chunks = append(chunks, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(chunks) != 2 || chunks[0] != "Hel" || chunks[1] != "lo" {
		t.Fatalf("chunks = %v", chunks)
	}
	if res.Text != "Hello" || res.Tokens != 2 || res.FinishReason != "stop" {
		t.Fatalf("result = %+v", res)
	}
	if gotReq.Model != "tiny-q4" || gotReq.Prompt != "hi" || !gotReq.Stream {
		t.Fatalf("wire request = %+v", gotReq)
	}
	if gotReq.Options.NumPredict != 16 {
		t.Fatalf("options = %+v", gotReq.Options)
	}
}

func TestGenerateDefaultsFinishReason(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler([]string{
		`{"response":"x"}`,
		`{"done":true,"eval_count":1}`,
	}))
	defer srv.Close()

	p := testProcess(srv, "m")
	res, err := p.Generate(context.Background(), Params{Prompt: "p"}, func(string) error { return nil })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.FinishReason != "stop" {
		t.Fatalf("finish reason = %q", res.FinishReason)
	}
}

func TestGenerateWithoutLoadedModel(t *testing.T) {
	p := &Process{log: zerolog.Nop(), client: http.DefaultClient}
	if _, err := p.Generate(context.Background(), Params{Prompt: "p"}, func(string) error { return nil }); err == nil {
		t.Fatal("expected error on empty slot")
	}
}

func TestGenerateSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := testProcess(srv, "m")
	if _, err := p.Generate(context.Background(), Params{Prompt: "p"}, func(string) error { return nil }); err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}

func TestGenerateStopsWhenChunkCallbackFails(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler([]string{
		`{"response":"a"}`,
		`{"response":"b"}`,
		`{"done":true}`,
	}))
	defer srv.Close()

	p := testProcess(srv, "m")
	cbErr := fmt.Errorf("relay closed")
	n := 0
	_, err := p.Generate(context.Background(), Params{Prompt: "p"}, func(string) error {
		n++
		return cbErr
	})
	if err != cbErr {
		t.Fatalf("err = %v, want callback error", err)
	}
	if n != 1 {
		t.Fatalf("callback called %d times", n)
	}
}

func TestGenerateHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		fmt.Fprintln(w, `{"response":"first"}`)
		f.Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	p := testProcess(srv, "m")
	ctx, cancel := context.WithCancel(context.Background())
	_, err := p.Generate(ctx, Params{Prompt: "p"}, func(string) error {
		cancel()
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPingEmptySlotIsHealthy(t *testing.T) {
	p := &Process{log: zerolog.Nop(), client: http.DefaultClient}
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestHealthyChecksVersionEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/version" {
			fmt.Fprint(w, `{"version":"0.1.0"}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := testProcess(srv, "m")
	if !p.healthy(context.Background(), srv.URL) {
		t.Fatal("expected healthy")
	}
	if p.healthy(context.Background(), "") {
		t.Fatal("empty base URL cannot be healthy")
	}
}

func TestPickFreePort(t *testing.T) {
	p1, err := pickFreePort("127.0.0.1")
	if err != nil {
		t.Fatalf("pickFreePort: %v", err)
	}
	if p1 <= 0 || p1 > 65535 {
		t.Fatalf("port out of range: %d", p1)
	}
}

func TestModelReportsResidency(t *testing.T) {
	p := &Process{log: zerolog.Nop()}
	if _, ok := p.Model(); ok {
		t.Fatal("empty slot reports a model")
	}
}
