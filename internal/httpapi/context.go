package httpapi

import (
	"context"
	"net/http"
)

// serverBaseCtx is canceled on process shutdown. Defaults to Background.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// opContext returns a context canceled when the client goes away, when the
// process shuts down, or after opTimeout.
func opContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(serverBaseCtx, cancel)
	if opTimeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, opTimeout)
		return tctx, func() {
			tcancel()
			stop()
			cancel()
		}
	}
	return ctx, func() {
		stop()
		cancel()
	}
}
