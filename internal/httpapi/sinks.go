package httpapi

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

// ndjsonSink streams TokenChunk lines to the client and terminates with an
// explicit StreamEnd marker. Write blocks on the underlying connection, so
// client slowness propagates to the relay as backpressure.
type ndjsonSink struct {
	mu    sync.Mutex
	w     io.Writer
	flush func()
	model string
	wrote bool
}

func newNDJSONSink(w io.Writer, flush func(), model string) *ndjsonSink {
	return &ndjsonSink{w: w, flush: flush, model: model}
}

func (s *ndjsonSink) Write(chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, _ := json.Marshal(types.TokenChunk{Token: chunk})
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return err
	}
	s.wrote = true
	if s.flush != nil {
		s.flush()
	}
	return nil
}

func (s *ndjsonSink) End(res backend.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := types.StreamEnd{Done: true, Text: res.Text, Model: s.model, Tokens: res.Tokens, FinishReason: res.FinishReason}
	b, _ := json.Marshal(end)
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return err
	}
	s.wrote = true
	if s.flush != nil {
		s.flush()
	}
	return nil
}

func (s *ndjsonSink) wroteHeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote
}

// bufferSink accumulates the full completion for non-streaming responses.
type bufferSink struct {
	mu   sync.Mutex
	text strings.Builder
	res  backend.Result
}

func newBufferSink() *bufferSink { return &bufferSink{} }

func (s *bufferSink) Write(chunk string) error {
	s.mu.Lock()
	s.text.WriteString(chunk)
	s.mu.Unlock()
	return nil
}

func (s *bufferSink) End(res backend.Result) error {
	s.mu.Lock()
	if res.Text == "" {
		res.Text = s.text.String()
	}
	s.res = res
	s.mu.Unlock()
	return nil
}

type bufferResult struct {
	Text   string
	Model  string
	Tokens int
}

func (s *bufferSink) result() bufferResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bufferResult{Text: s.res.Text, Tokens: s.res.Tokens}
}
