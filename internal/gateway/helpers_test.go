package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

// recorder collects cross-slot backend activity for assertions.
type recorder struct {
	mu       sync.Mutex
	runtimes []*fakeRuntime
	loads    []string
	unloads  []string
	prompts  []string
	loadErr  func(name string) error
	genFn    func(ctx context.Context, p backend.Params, onChunk func(string) error) (backend.Result, error)
	pingGate chan struct{}
}

func (r *recorder) runtime(i int) *fakeRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runtimes[i]
}

func (r *recorder) created() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runtimes)
}

func (r *recorder) loadNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loads...)
}

func (r *recorder) unloadNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.unloads...)
}

func (r *recorder) promptOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

func (r *recorder) setGen(fn func(ctx context.Context, p backend.Params, onChunk func(string) error) (backend.Result, error)) {
	r.mu.Lock()
	r.genFn = fn
	r.mu.Unlock()
}

// setPingGate parks the pings of runtimes created after this call until the
// gate closes, holding them in their probing phase.
func (r *recorder) setPingGate(gate chan struct{}) {
	r.mu.Lock()
	r.pingGate = gate
	r.mu.Unlock()
}

// fakeRuntime is an in-memory backend.Runtime for scheduling tests. The
// default Generate emits "a", "b", "c" and finishes with "abc".
type fakeRuntime struct {
	slot int
	rec  *recorder
	gate chan struct{} // set at construction, nil when unused

	mu      sync.Mutex
	model   string
	pingErr error
	closed  bool
}

func newFakeFactory() (*recorder, backend.Factory) {
	rec := &recorder{}
	return rec, func(slot int) backend.Runtime {
		f := &fakeRuntime{slot: slot, rec: rec}
		rec.mu.Lock()
		f.gate = rec.pingGate
		rec.runtimes = append(rec.runtimes, f)
		rec.mu.Unlock()
		return f
	}
}

func (f *fakeRuntime) Load(ctx context.Context, model types.Model) error {
	f.rec.mu.Lock()
	loadErr := f.rec.loadErr
	f.rec.loads = append(f.rec.loads, model.Name)
	f.rec.mu.Unlock()
	if loadErr != nil {
		if err := loadErr(model.Name); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.model = model.Name
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) Unload(ctx context.Context, model string) error {
	f.rec.mu.Lock()
	f.rec.unloads = append(f.rec.unloads, model)
	f.rec.mu.Unlock()
	f.mu.Lock()
	f.model = ""
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) Generate(ctx context.Context, p backend.Params, onChunk func(string) error) (backend.Result, error) {
	f.rec.mu.Lock()
	f.rec.prompts = append(f.rec.prompts, p.Prompt)
	fn := f.rec.genFn
	f.rec.mu.Unlock()
	if fn != nil {
		return fn(ctx, p, onChunk)
	}
	for _, tok := range []string{"a", "b", "c"} {
		if err := onChunk(tok); err != nil {
			return backend.Result{}, err
		}
	}
	return backend.Result{Text: "abc", Tokens: 3, FinishReason: "stop"}, nil
}

func (f *fakeRuntime) Ping(ctx context.Context) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRuntime) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fakeRuntime) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// newTestGateway builds a gateway over fake runtimes and a memory publisher.
// It does not call Start; tests that need dispatching call startGateway.
func newTestGateway(t *testing.T, cfg Config, models ...string) (*Gateway, *recorder, *MemoryPublisher) {
	t.Helper()
	cat := make([]types.Model, 0, len(models))
	for _, m := range models {
		cat = append(cat, types.Model{Name: m, Path: "/models/" + m + ".gguf"})
	}
	reg := registry.New(cat)
	rec, factory := newFakeFactory()
	g := NewWithConfig(cfg, reg, factory, zerolog.Nop())
	pub := NewMemoryPublisher()
	g.SetPublisher(pub)
	return g, rec, pub
}

func startGateway(t *testing.T, g *Gateway) {
	t.Helper()
	g.Start(context.Background())
	t.Cleanup(g.Shutdown)
}

// collectSink records relayed output; it can fail or slow down writes to
// simulate client behavior.
type collectSink struct {
	mu        sync.Mutex
	chunks    []string
	ended     bool
	res       backend.Result
	failAfter int // fail Write after this many successful writes; 0 = never
	writeErr  error
	delay     time.Duration
}

func (s *collectSink) Write(chunk string) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.chunks) >= s.failAfter {
		return s.writeErr
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *collectSink) End(res backend.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.res = res
	return nil
}

func (s *collectSink) got() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chunks...)
}

func (s *collectSink) endedWith() (backend.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res, s.ended
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
