package backend

import (
	"context"

	"inferd/pkg/types"
)

// Params captures one generation call against the runtime.
type Params struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
	Stop        []string
	Seed        int64
}

// Result summarizes a generation after streaming has finished.
type Result struct {
	Text         string
	Tokens       int
	FinishReason string
}

// Runtime is one execution slot against the model runtime process. The
// gateway owns exactly one Runtime per session; implementations do not need
// to be safe for concurrent Generate calls.
type Runtime interface {
	// Load makes model resident on this slot. Implementations must return
	// once the runtime is ready to serve the model or ctx expires.
	Load(ctx context.Context, model types.Model) error
	// Unload releases the named model from this slot.
	Unload(ctx context.Context, model string) error
	// Generate streams output for p, invoking onChunk for every fragment in
	// emission order. It must return promptly when ctx is cancelled.
	Generate(ctx context.Context, p Params, onChunk func(string) error) (Result, error)
	// Ping reports whether the runtime process is alive and responsive.
	Ping(ctx context.Context) error
	// Close terminates the slot and any process behind it.
	Close() error
}

// Factory creates the Runtime for a session slot. The pool calls it again
// when replacing a crashed session.
type Factory func(slot int) Runtime
