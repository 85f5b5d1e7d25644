package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/internal/registry"
)

// Gateway is the inference scheduling core: it admits requests, queues them
// in submission order, binds them to backend sessions, and relays streamed
// output back to clients.
type Gateway struct {
	cfg   Config
	reg   *registry.Registry
	pool  *pool
	queue *requestQueue
	pub   EventPublisher
	log   zerolog.Logger

	seq         atomic.Uint64
	outstanding atomic.Int64
	startTime   time.Time

	// inflight indexes admitted, non-terminal requests by id for Cancel.
	inflight sync.Map // string -> *queueEntry

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewWithConfig constructs a Gateway over a model registry and a backend
// runtime factory.
func NewWithConfig(cfg Config, reg *registry.Registry, factory backend.Factory, log zerolog.Logger) *Gateway {
	cfg = cfg.withDefaults()
	g := &Gateway{
		cfg:       cfg,
		reg:       reg,
		queue:     newRequestQueue(),
		pub:       noopPublisher{},
		log:       log,
		startTime: time.Now(),
	}
	g.pool = newPool(cfg, reg, factory, &forwardPublisher{g: g}, log)
	return g
}

// SetPublisher installs an EventPublisher for lifecycle events. Call before
// Start.
func (g *Gateway) SetPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	g.pub = p
}

// forwardPublisher lets the pool publish through the gateway's current
// publisher even when SetPublisher is called after construction.
type forwardPublisher struct{ g *Gateway }

func (f *forwardPublisher) Publish(e Event) { f.g.pub.Publish(e) }

// Start launches the dispatch loop and the periodic health checker. The
// gateway stops when ctx is cancelled or Shutdown is called.
func (g *Gateway) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	g.runCancel = cancel
	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.dispatchLoop(runCtx)
	}()
	go func() {
		defer g.wg.Done()
		t := time.NewTicker(g.cfg.HealthInterval)
		defer t.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-t.C:
				g.pool.healthCheck()
			}
		}
	}()
}

// Shutdown stops dispatching and terminates all sessions.
func (g *Gateway) Shutdown() {
	if g.runCancel != nil {
		g.runCancel()
	}
	g.pool.close()
	g.wg.Wait()
}

// Ready reports whether at least one session can take work.
func (g *Gateway) Ready() bool { return g.pool.anyReady() }

// Cancel transitions the identified request to Cancelled if it has not
// reached a terminal state. A queued request becomes inert and is skipped at
// dequeue; a dispatched one has its backend work aborted.
func (g *Gateway) Cancel(id string) bool {
	v, ok := g.inflight.Load(id)
	if !ok {
		return false
	}
	e := v.(*queueEntry)
	if !e.req.transition(ReqCancelled) {
		return false
	}
	g.pub.Publish(Event{Name: EventCancel, RequestID: id, ModelID: e.req.Model})
	e.req.mu.Lock()
	cancel := e.req.cancel
	e.req.mu.Unlock()
	if cancel != nil {
		// dispatched: abort backend generation; the run goroutine finishes
		// the ticket.
		cancel()
		return true
	}
	// still queued: settle the ticket now; dequeue will skip the entry.
	g.finish(e, backend.Result{}, ErrCancelled(id))
	return true
}

// Preload asynchronously makes name resident, mirroring a request dispatch
// without generation. Idempotent: a model already loading or loaded reports
// its current state and no second load is started.
func (g *Gateway) Preload(name string) (string, error) {
	if _, ok := g.reg.Resolve(name); !ok {
		return "", ErrUnknownModel(name)
	}
	if st, _ := g.reg.StateOf(name); st != registry.StateUnloaded {
		return string(st), nil
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.preload(name)
	}()
	return string(registry.StateLoading), nil
}

func (g *Gateway) preload(name string) {
	mdl, ok := g.reg.Resolve(name)
	if !ok {
		return
	}
	deadline := time.Now().Add(g.cfg.LoadTimeout + g.cfg.RequestTimeout)
	for time.Now().Before(deadline) {
		s, ok := g.pool.acquire("preload:" + name)
		if !ok {
			select {
			case <-g.pool.freed:
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.LoadTimeout)
		err := g.pool.ensureModel(ctx, s, mdl)
		cancel()
		if err == nil {
			g.pool.evict(g.reg.EvictIfNeeded(g.cfg.MaxLoadedModels))
		} else {
			g.log.Warn().Str("model", name).Err(err).Msg("preload failed")
		}
		g.pool.release(s)
		return
	}
	g.log.Warn().Str("model", name).Msg("preload gave up waiting for a session")
}

// finish settles a request's ticket exactly once and drops the bookkeeping.
func (g *Gateway) finish(e *queueEntry, res backend.Result, err error) {
	if _, loaded := g.inflight.LoadAndDelete(e.req.ID); !loaded {
		return
	}
	g.outstanding.Add(-1)
	queueDepthGauge.Set(float64(g.queue.depth()))
	e.ticket.finish(res, err)
}

// joinContexts returns a context cancelled when either a or b is done. The
// returned cancel func must be called to release the goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
