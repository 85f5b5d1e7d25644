package gateway

import (
	"context"
	"sync"
	"time"

	"inferd/internal/backend"
	"inferd/pkg/types"
)

// RequestState is the lifecycle state of a generation request.
type RequestState string

const (
	ReqQueued     RequestState = "queued"
	ReqDispatched RequestState = "dispatched"
	ReqStreaming  RequestState = "streaming"
	ReqCompleted  RequestState = "completed"
	ReqFailed     RequestState = "failed"
	ReqCancelled  RequestState = "cancelled"
)

// Request is the gateway's bookkeeping for one admitted generation request.
// State transitions are monotonic: Queued → Dispatched → Streaming →
// {Completed|Failed}, with Cancelled reachable from any non-terminal state.
type Request struct {
	ID          string
	Seq         uint64 // monotonic submission order
	Model       string
	Prompt      string
	Params      types.GenerateParams
	Stream      bool
	SubmittedAt time.Time
	Deadline    time.Time

	mu     sync.Mutex
	state  RequestState
	reason string // failure reason code when state == ReqFailed
	cancel context.CancelFunc
}

var reqRank = map[RequestState]int{
	ReqQueued:     0,
	ReqDispatched: 1,
	ReqStreaming:  2,
	ReqCompleted:  3,
	ReqFailed:     3,
	ReqCancelled:  3,
}

func terminal(s RequestState) bool { return reqRank[s] == 3 }

// transition advances the request state. It refuses to move backwards or to
// leave a terminal state, and reports whether the transition was applied.
func (r *Request) transition(to RequestState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if terminal(r.state) || reqRank[to] <= reqRank[r.state] {
		return false
	}
	r.state = to
	return true
}

// State returns the current request state.
func (r *Request) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Request) fail(reason string) bool {
	if r.transition(ReqFailed) {
		r.mu.Lock()
		r.reason = reason
		r.mu.Unlock()
		return true
	}
	return false
}

// FailReason returns the failure reason code, if the request failed.
func (r *Request) FailReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// SessionState is the lifecycle state of one backend execution slot.
type SessionState string

const (
	SessStarting   SessionState = "starting"
	SessReady      SessionState = "ready"
	SessBusy       SessionState = "busy"
	SessUnhealthy  SessionState = "unhealthy"
	SessTerminated SessionState = "terminated"
)

// Session represents one concurrency slot against the backend runtime.
// It is owned exclusively by the pool; no other component mutates it.
type Session struct {
	ID       int
	state    SessionState
	model    string // loaded model name, "" when empty
	boundReq string // currently bound request id, "" when idle
	restarts int
	runtime  backend.Runtime
}

// Ticket is the caller's handle to await a submitted request.
type Ticket struct {
	Request *Request

	done   chan struct{}
	err    error
	result backend.Result
}

// Wait blocks until the request reaches a terminal state or ctx expires.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the final generation result. Valid after Wait returns nil.
func (t *Ticket) Result() backend.Result { return t.result }

func (t *Ticket) finish(res backend.Result, err error) {
	t.result = res
	t.err = err
	close(t.done)
}

// Sink receives relayed output for one request. Write blocks until the
// client can accept the chunk; its error signals the client is gone.
type Sink interface {
	Write(chunk string) error
	End(res backend.Result) error
}
