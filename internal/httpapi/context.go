package httpapi

import "context"

// serverBaseCtx ends long-lived responses (event streams) on shutdown;
// http.Server.Shutdown alone does not interrupt them.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process-level context. nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context derived from a that is also canceled when b
// is done. cancel must be called once the caller is finished with it.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
