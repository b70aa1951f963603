package twin

import (
	"context"

	"github.com/halo-iot/halo-go/pkg/halolog"
)

// FetchFunc retrieves the current remote twin.
// Implementations typically fetch through the current transport handle.
type FetchFunc func(ctx context.Context) (*Document, error)

// Reconciler recovers desired-property updates missed while disconnected.
//
// On every reconnect the lifecycle manager calls Reconcile, which compares
// the server's desired-property version against the local watermark and
// replays the update through the same path as a live notification only
// when the server is ahead. Repeated calls with no server-side change are
// no-ops.
type Reconciler struct {
	fetch   FetchFunc
	handler *Handler
	logger  halolog.Logger
}

// NewReconciler creates a reconciler that fetches with fetch and applies
// through handler. A nil logger disables logging.
func NewReconciler(fetch FetchFunc, handler *Handler, logger halolog.Logger) *Reconciler {
	if logger == nil {
		logger = halolog.NoopLogger{}
	}
	return &Reconciler{
		fetch:   fetch,
		handler: handler,
		logger:  logger,
	}
}

// Reconcile fetches the remote twin and applies the desired properties if
// the server version is ahead of the watermark. Fetch errors propagate to
// the caller, which retries them under its own policy.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	local := r.handler.Watermark().Version()

	doc, err := r.fetch(ctx)
	if err != nil {
		return err
	}

	if doc.Desired.Version <= local {
		// Already applied, possibly via a live notification that
		// arrived while we were fetching.
		event := halolog.NewEvent(halolog.CategoryTwin)
		event.Twin = &halolog.TwinEvent{
			LocalVersion:  local,
			ServerVersion: doc.Desired.Version,
			Applied:       false,
		}
		r.logger.Log(event)
		return nil
	}

	return r.handler.OnUpdate(ctx, doc.Desired)
}
