package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"inferd/pkg/types"
)

// Submit validates and admits a generation request. Capacity limits are
// enforced here, before any queue or session resource is touched, so
// overload fails fast. On acceptance the request is enqueued and the caller
// receives a Ticket to await the result.
func (g *Gateway) Submit(ctx context.Context, api types.GenerateRequest, sink Sink) (*Ticket, error) {
	if strings.TrimSpace(api.Prompt) == "" {
		g.reject(ReasonInvalidRequest, "")
		return nil, ErrInvalidRequest("prompt is required")
	}
	if api.Params.MaxTokens < 0 || api.Params.Temperature < 0 || api.Params.TopP < 0 || api.Params.TopP > 1 {
		g.reject(ReasonInvalidRequest, "")
		return nil, ErrInvalidRequest("invalid generation parameters")
	}
	model := api.Model
	if model == "" {
		model = g.cfg.DefaultModel
	}
	if model == "" {
		g.reject(ReasonInvalidRequest, "")
		return nil, ErrInvalidRequest("model is required and no default is configured")
	}
	if _, ok := g.reg.Resolve(model); !ok {
		g.reject(ReasonUnknownModel, model)
		return nil, ErrUnknownModel(model)
	}
	if g.outstanding.Add(1) > int64(g.cfg.MaxOutstanding) {
		g.outstanding.Add(-1)
		g.reject(ReasonQueueFull, model)
		return nil, ErrQueueFull()
	}

	now := time.Now()
	req := &Request{
		ID:          uuid.NewString(),
		Seq:         g.seq.Add(1),
		Model:       model,
		Prompt:      api.Prompt,
		Params:      api.Params,
		Stream:      api.Stream,
		SubmittedAt: now,
		Deadline:    now.Add(g.cfg.RequestTimeout),
		state:       ReqQueued,
	}
	ticket := &Ticket{Request: req, done: make(chan struct{})}
	entry := &queueEntry{req: req, ticket: ticket, ctx: ctx, sink: sink}

	g.inflight.Store(req.ID, entry)
	g.pub.Publish(Event{Name: EventAdmit, RequestID: req.ID, ModelID: model, Fields: map[string]any{"seq": req.Seq}})
	admittedTotal.Inc()
	g.queue.enqueue(entry)
	queueDepthGauge.Set(float64(g.queue.depth()))
	return ticket, nil
}

// Generate is the synchronous convenience wrapper: submit, then wait for the
// terminal state while the relay writes into sink.
func (g *Gateway) Generate(ctx context.Context, api types.GenerateRequest, sink Sink) error {
	t, err := g.Submit(ctx, api, sink)
	if err != nil {
		return err
	}
	return t.Wait(ctx)
}

func (g *Gateway) reject(reason, model string) {
	g.pub.Publish(Event{Name: EventReject, ModelID: model, Fields: map[string]any{"reason": reason}})
	rejectedTotal.WithLabelValues(reason).Inc()
}
