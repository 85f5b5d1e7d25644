package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"inferd/internal/backend"
)

// relay ferries incremental backend output to the client sink. Chunks pass
// through a bounded buffer: when the sink is slow the buffer fills and the
// backend read loop blocks on the send, so backpressure reaches the runtime
// instead of growing memory. Chunks are never reordered or dropped.
//
// Cancellation policy: a client disconnect (sink write failure or context
// cancellation) aborts backend generation immediately by cancelling the
// relay context; any residual output the runtime emits before it notices is
// drained and discarded.
func (g *Gateway) relay(ctx context.Context, s *Session, e *queueEntry) (backend.Result, error) {
	req := e.req
	params := backend.Params{
		Prompt:      req.Prompt,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		TopK:        req.Params.TopK,
		Stop:        req.Params.Stop,
		Seed:        req.Params.Seed,
	}

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// First-token watchdog: a dispatched request that never starts emitting is
	// indistinguishable from a wedged backend, so bound the wait.
	var firstTokenLate atomic.Bool
	var gotFirst atomic.Bool
	var watchdog *time.Timer
	if g.cfg.FirstTokenTimeout > 0 {
		watchdog = time.AfterFunc(g.cfg.FirstTokenTimeout, func() {
			firstTokenLate.Store(true)
			cancel()
		})
		defer watchdog.Stop()
	}

	buf := make(chan string, g.cfg.RelayBuffer)
	sinkFailed := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for chunk := range buf {
			if relayCtx.Err() != nil {
				// cancelled: residual output is drained, never forwarded
				continue
			}
			if err := e.sink.Write(chunk); err != nil {
				select {
				case sinkFailed <- err:
				default:
				}
				// keep draining so the producer is never blocked on a dead sink
				cancel()
				continue
			}
			chunksRelayed.Inc()
		}
	}()

	onChunk := func(tok string) error {
		if watchdog != nil && gotFirst.CompareAndSwap(false, true) {
			watchdog.Stop()
		}
		select {
		case buf <- tok:
			return nil
		case <-relayCtx.Done():
			return relayCtx.Err()
		}
	}

	res, genErr := s.runtime.Generate(relayCtx, params, onChunk)
	close(buf)
	wg.Wait()

	select {
	case <-sinkFailed:
		return res, ErrCancelled(req.ID)
	default:
	}
	if firstTokenLate.Load() {
		return res, ErrRequestTimeout(req.ID)
	}
	if genErr != nil {
		return res, genErr
	}
	if ctx.Err() != nil {
		// the runtime outlived the cancel signal; its result is discarded
		return res, ErrCancelled(req.ID)
	}
	if err := e.sink.End(res); err != nil {
		return res, ErrCancelled(req.ID)
	}
	return res, nil
}
