package httpapi

import "context"

// serverBaseCtx is joined with each request context so a server shutdown
// cancels in-flight generations.
var serverBaseCtx context.Context = context.Background()

// SetBaseContext installs the server lifetime context.
func SetBaseContext(ctx context.Context) {
	if ctx != nil {
		serverBaseCtx = ctx
	}
}

// joinContexts returns a context cancelled when either parent is done.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
