package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

// pool owns the fixed set of backend sessions. Sessions are mutated only
// here; the dispatcher holds a session exclusively between acquire and
// release, so runtime calls happen without the pool lock.
type pool struct {
	cfg     Config
	reg     *registry.Registry
	factory backend.Factory
	log     zerolog.Logger
	pub     EventPublisher

	mu       sync.Mutex
	sessions []*Session
	closed   bool

	// freed signals the dispatcher that a session may be available.
	freed chan struct{}

	restartsTotal  atomic.Uint64
	evictionsTotal atomic.Uint64
}

func newPool(cfg Config, reg *registry.Registry, factory backend.Factory, pub EventPublisher, log zerolog.Logger) *pool {
	p := &pool{
		cfg:     cfg,
		reg:     reg,
		factory: factory,
		log:     log,
		pub:     pub,
		freed:   make(chan struct{}, 1),
	}
	for i := 0; i < cfg.Sessions; i++ {
		p.sessions = append(p.sessions, &Session{ID: i, state: SessReady, runtime: factory(i)})
	}
	return p
}

// acquire returns the first Ready session bound to reqID, or false when all
// slots are busy or unhealthy.
func (p *pool) acquire(reqID string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.state == SessReady {
			s.state = SessBusy
			s.boundReq = reqID
			return s, true
		}
	}
	return nil, false
}

// release returns a session to the pool. A health check runs after every
// request completion; an unresponsive runtime takes the crash path instead of
// going back to Ready.
func (p *pool) release(s *Session) {
	p.mu.Lock()
	rt := s.runtime
	busy := s.state == SessBusy
	s.boundReq = ""
	p.mu.Unlock()
	if !busy {
		// crashed or terminated mid-request; the restart path owns it now
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	err := rt.Ping(ctx)
	cancel()
	if err != nil {
		p.crash(s, err.Error())
		return
	}
	p.mu.Lock()
	if s.state == SessBusy {
		s.state = SessReady
	}
	p.mu.Unlock()
	p.wake()
}

// releaseIdle returns a session acquired speculatively by the dispatcher
// when the queue turned out to be empty. No health check, no wake: nothing
// happened on the session and waking would spin the dispatch loop.
func (p *pool) releaseIdle(s *Session) {
	p.mu.Lock()
	if s.state == SessBusy {
		s.state = SessReady
	}
	s.boundReq = ""
	p.mu.Unlock()
}

// ensureModel makes the requested model resident on s, unloading the previous
// model first when they differ. A load that exceeds the configured timeout
// marks the session unhealthy and schedules a restart.
func (p *pool) ensureModel(ctx context.Context, s *Session, model types.Model) error {
	p.mu.Lock()
	cur := s.model
	p.mu.Unlock()
	if cur == model.Name {
		p.reg.Touch(s.ID, model.Name)
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, p.cfg.LoadTimeout)
	defer cancel()

	if cur != "" {
		p.pub.Publish(Event{Name: EventModelUnload, ModelID: cur, Fields: map[string]any{"session": s.ID}})
		if err := s.runtime.Unload(lctx, cur); err != nil {
			if lctx.Err() != nil {
				p.crash(s, "unload timeout: "+cur)
				return ErrModelLoadFailed(model.Name, "unload of "+cur+" timed out")
			}
			return ErrModelLoadFailed(model.Name, "unload of "+cur+" failed: "+err.Error())
		}
		p.reg.MarkUnloaded(cur)
		p.mu.Lock()
		s.model = ""
		p.mu.Unlock()
	}

	if err := p.reg.MarkLoading(s.ID, model.Name); err != nil {
		return ErrModelLoadFailed(model.Name, err.Error())
	}
	p.pub.Publish(Event{Name: EventModelLoad, ModelID: model.Name, Fields: map[string]any{"session": s.ID}})
	if err := s.runtime.Load(lctx, model); err != nil {
		p.reg.MarkUnloaded(model.Name)
		if lctx.Err() != nil && ctx.Err() == nil {
			// load timeout, not caller cancellation
			p.crash(s, "load timeout: "+model.Name)
			return ErrModelLoadFailed(model.Name, "load timed out")
		}
		// Backend rejected the load; the session stays usable without the model.
		return ErrModelLoadFailed(model.Name, err.Error())
	}
	p.reg.MarkLoaded(s.ID, model.Name)
	p.mu.Lock()
	s.model = model.Name
	p.mu.Unlock()
	return nil
}

// crash transitions a session to Terminated and schedules an asynchronous
// replacement under capped exponential backoff, so a flapping backend cannot
// cause a restart storm.
func (p *pool) crash(s *Session, reason string) {
	p.mu.Lock()
	if p.closed || s.state == SessTerminated || s.state == SessUnhealthy {
		p.mu.Unlock()
		return
	}
	s.state = SessUnhealthy
	lost := s.model
	s.model = ""
	s.boundReq = ""
	p.mu.Unlock()

	if lost != "" {
		p.reg.MarkUnloaded(lost)
	}
	p.log.Warn().Int("session", s.ID).Str("reason", reason).Msg("session crashed, scheduling restart")
	go p.restart(s)
}

// restart replaces a session's runtime. The old runtime is closed, then a
// fresh one is created and pinged until responsive. The slot reports Starting
// while a replacement is being probed and falls back to Terminated between
// attempts.
func (p *pool) restart(s *Session) {
	_ = s.runtime.Close()
	p.mu.Lock()
	s.state = SessTerminated
	p.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RestartBackoffInitial
	bo.MaxInterval = p.cfg.RestartBackoffMax
	bo.MaxElapsedTime = 0 // retry until shutdown

	for {
		wait := bo.NextBackOff()
		time.Sleep(wait)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		s.state = SessStarting
		p.mu.Unlock()

		rt := p.factory(s.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rt.Ping(ctx)
		cancel()
		if err != nil {
			_ = rt.Close()
			p.mu.Lock()
			if !p.closed {
				s.state = SessTerminated
			}
			p.mu.Unlock()
			p.log.Warn().Int("session", s.ID).Err(err).Dur("backoff", wait).Msg("replacement runtime not responsive")
			continue
		}

		p.mu.Lock()
		s.runtime = rt
		s.state = SessReady
		s.restarts++
		p.mu.Unlock()
		p.restartsTotal.Add(1)
		p.pub.Publish(Event{Name: EventSessionRestart, Fields: map[string]any{"session": s.ID}})
		p.log.Info().Int("session", s.ID).Msg("session restarted")
		p.wake()
		return
	}
}

// healthCheck pings idle sessions; busy ones surface failures through their
// in-flight generate call.
func (p *pool) healthCheck() {
	p.mu.Lock()
	var idle []*Session
	for _, s := range p.sessions {
		if s.state == SessReady {
			idle = append(idle, s)
		}
	}
	p.mu.Unlock()
	for _, s := range idle {
		p.mu.Lock()
		rt := s.runtime
		p.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rt.Ping(ctx)
		cancel()
		if err != nil {
			p.crash(s, err.Error())
		}
	}
}

// evict unloads the given models from whichever Ready session holds them.
// Busy sessions are never touched.
func (p *pool) evict(victims []string) {
	for _, name := range victims {
		p.mu.Lock()
		var target *Session
		var rt backend.Runtime
		for _, s := range p.sessions {
			if s.state == SessReady && s.model == name {
				// reserve the slot so the dispatcher cannot bind it mid-unload
				s.state = SessBusy
				s.boundReq = "evict:" + name
				target = s
				rt = s.runtime
				break
			}
		}
		p.mu.Unlock()
		if target == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.LoadTimeout)
		err := rt.Unload(ctx, name)
		cancel()
		p.mu.Lock()
		if err == nil {
			target.model = ""
		}
		if target.state == SessBusy {
			target.state = SessReady
		}
		target.boundReq = ""
		p.mu.Unlock()
		if err != nil {
			p.log.Warn().Str("model", name).Err(err).Msg("eviction unload failed")
			continue
		}
		p.reg.MarkUnloaded(name)
		p.evictionsTotal.Add(1)
		p.pub.Publish(Event{Name: EventEvict, ModelID: name, Fields: map[string]any{"session": target.ID}})
		p.wake()
	}
}

// anyReady reports whether at least one session can take work.
func (p *pool) anyReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.state == SessReady || s.state == SessBusy {
			return true
		}
	}
	return false
}

// snapshot copies session states for status reporting.
func (p *pool) snapshot() []types.SessionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.SessionStatus, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, types.SessionStatus{
			ID:        s.ID,
			State:     string(s.state),
			Model:     s.model,
			RequestID: s.boundReq,
			Restarts:  s.restarts,
		})
	}
	return out
}

func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	sessions := append([]*Session(nil), p.sessions...)
	p.mu.Unlock()
	for _, s := range sessions {
		_ = s.runtime.Close()
		p.mu.Lock()
		s.state = SessTerminated
		p.mu.Unlock()
	}
}

func (p *pool) wake() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}
