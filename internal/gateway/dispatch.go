package gateway

import (
	"context"
	"time"

	"inferd/internal/backend"
)

// dispatchLoop is the single coordinating task that matches queue entries to
// free sessions. Running it alone avoids races on session acquisition; all
// other goroutines only enqueue or signal.
func (g *Gateway) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.queue.notify:
		case <-g.pool.freed:
		}
		g.drain(ctx)
	}
}

// drain binds queued requests to sessions until either runs out.
func (g *Gateway) drain(ctx context.Context) {
	for {
		s, ok := g.pool.acquire("")
		if !ok {
			return
		}
		e := g.nextLive()
		if e == nil {
			g.pool.releaseIdle(s)
			return
		}
		g.bind(s, e.req.ID)
		g.wg.Add(1)
		go func(e *queueEntry, s *Session) {
			defer g.wg.Done()
			g.run(ctx, e, s)
		}(e, s)
	}
}

// nextLive pops queue entries, settling cancelled or expired ones, until a
// dispatchable entry (or none) is found.
func (g *Gateway) nextLive() *queueEntry {
	for {
		e := g.queue.dequeue()
		if e == nil {
			return nil
		}
		if e.ctx.Err() != nil {
			if e.req.transition(ReqCancelled) {
				g.pub.Publish(Event{Name: EventCancel, RequestID: e.req.ID, ModelID: e.req.Model})
				g.finish(e, backend.Result{}, ErrCancelled(e.req.ID))
			}
			continue
		}
		if !e.req.Deadline.IsZero() && time.Now().After(e.req.Deadline) {
			if e.req.fail(ReasonRequestTimeout) {
				g.pub.Publish(Event{Name: EventFail, RequestID: e.req.ID, ModelID: e.req.Model, Fields: map[string]any{"reason": ReasonRequestTimeout}})
				g.finish(e, backend.Result{}, ErrRequestTimeout(e.req.ID))
			}
			continue
		}
		return e
	}
}

func (g *Gateway) bind(s *Session, reqID string) {
	g.pool.mu.Lock()
	s.boundReq = reqID
	g.pool.mu.Unlock()
}

// run executes one dispatched request on its bound session: model switch,
// relay, terminal-state classification, session release.
func (g *Gateway) run(baseCtx context.Context, e *queueEntry, s *Session) {
	req := e.req
	if !req.transition(ReqDispatched) {
		// cancelled between dequeue and here; the ticket is already settled
		g.pool.release(s)
		return
	}
	g.pub.Publish(Event{Name: EventDispatch, RequestID: req.ID, ModelID: req.Model, Fields: map[string]any{"seq": req.Seq, "session": s.ID}})
	queueDepthGauge.Set(float64(g.queue.depth()))

	ctx, cancelJoin := joinContexts(baseCtx, e.ctx)
	defer cancelJoin()
	ctx, cancelDeadline := context.WithDeadline(ctx, req.Deadline)
	defer cancelDeadline()
	req.mu.Lock()
	req.cancel = cancelDeadline
	req.mu.Unlock()

	g.reg.Pin(req.Model)
	defer g.reg.Unpin(req.Model)

	res, err := g.execute(ctx, e, s)

	g.reg.Touch(s.ID, req.Model)
	g.pool.release(s)
	g.settle(e, res, err)
}

// execute performs the model switch and the streaming relay.
func (g *Gateway) execute(ctx context.Context, e *queueEntry, s *Session) (backend.Result, error) {
	req := e.req
	mdl, ok := g.reg.Resolve(req.Model)
	if !ok {
		return backend.Result{}, ErrUnknownModel(req.Model)
	}
	if err := g.pool.ensureModel(ctx, s, mdl); err != nil {
		return backend.Result{}, err
	}
	g.pool.evict(g.reg.EvictIfNeeded(g.cfg.MaxLoadedModels))

	req.transition(ReqStreaming)
	g.pub.Publish(Event{Name: EventStreamStart, RequestID: req.ID, ModelID: req.Model, Fields: map[string]any{"session": s.ID}})
	return g.relay(ctx, s, e)
}

// settle classifies the relay outcome into the request's terminal state and
// finishes the ticket.
func (g *Gateway) settle(e *queueEntry, res backend.Result, err error) {
	req := e.req
	switch {
	case req.State() == ReqCancelled:
		// explicit Cancel already published its event; a runtime that finished
		// anyway does not resurrect the request
		g.finish(e, res, ErrCancelled(req.ID))
	case err == nil:
		req.transition(ReqCompleted)
		g.pub.Publish(Event{Name: EventComplete, RequestID: req.ID, ModelID: req.Model, Fields: map[string]any{"tokens": res.Tokens}})
		completedTotal.Inc()
		g.finish(e, res, nil)
	case e.ctx.Err() != nil || IsCancelled(err):
		// client disconnect or dead sink
		if req.transition(ReqCancelled) {
			g.pub.Publish(Event{Name: EventCancel, RequestID: req.ID, ModelID: req.Model})
		}
		g.finish(e, res, ErrCancelled(req.ID))
	case IsRequestTimeout(err) || (!req.Deadline.IsZero() && time.Now().After(req.Deadline)):
		req.fail(ReasonRequestTimeout)
		g.pub.Publish(Event{Name: EventFail, RequestID: req.ID, ModelID: req.Model, Fields: map[string]any{"reason": ReasonRequestTimeout}})
		failedTotal.WithLabelValues(ReasonRequestTimeout).Inc()
		if !IsRequestTimeout(err) {
			err = ErrRequestTimeout(req.ID)
		}
		g.finish(e, res, err)
	case IsModelLoadFailed(err):
		req.fail(ReasonModelLoadFailed)
		g.pub.Publish(Event{Name: EventFail, RequestID: req.ID, ModelID: req.Model, Fields: map[string]any{"reason": ReasonModelLoadFailed, "error": err.Error()}})
		failedTotal.WithLabelValues(ReasonModelLoadFailed).Inc()
		g.finish(e, res, err)
	default:
		// the stream contract broke mid-request; treat as a backend crash
		req.fail(ReasonBackendCrashed)
		g.pub.Publish(Event{Name: EventFail, RequestID: req.ID, ModelID: req.Model, Fields: map[string]any{"reason": ReasonBackendCrashed, "error": err.Error()}})
		failedTotal.WithLabelValues(ReasonBackendCrashed).Inc()
		g.finish(e, res, ErrBackendCrashed(err.Error()))
	}
}
