package twin

import (
	"context"
	"errors"

	"github.com/halo-iot/halo-go/pkg/halolog"
)

// ReportFunc writes a reported-property patch to the remote twin store.
// Implementations typically send through the current transport handle.
type ReportFunc func(ctx context.Context, patch Patch) error

// Handler applies desired-property updates.
//
// The policy is accept-all: every key of an incoming update is echoed back
// as a reported property so the controller can observe that the device has
// taken the value. Applying an update advances the watermark to the
// update's version.
type Handler struct {
	watermark *Watermark
	report    ReportFunc
	logger    halolog.Logger
}

// NewHandler creates a handler that reports through report and advances wm.
// A nil logger disables logging.
func NewHandler(wm *Watermark, report ReportFunc, logger halolog.Logger) *Handler {
	if logger == nil {
		logger = halolog.NoopLogger{}
	}
	return &Handler{
		watermark: wm,
		report:    report,
		logger:    logger,
	}
}

// OnUpdate applies a desired-property update: echoes every key into a
// reported patch, advances the watermark to the update version and sends
// the patch. Callers are responsible for not passing a version at or below
// the watermark (the reconciler's guard).
//
// A context cancellation during the send is swallowed: it means the
// process is shutting down and the report will be redone by the next
// reconciliation anyway.
func (h *Handler) OnUpdate(ctx context.Context, update DesiredProperties) error {
	local := h.watermark.Version()

	patch := make(Patch, len(update.Values))
	for key, value := range update.Values {
		patch[key] = value
	}

	h.watermark.Advance(update.Version)

	event := halolog.NewEvent(halolog.CategoryTwin)
	event.Twin = &halolog.TwinEvent{
		LocalVersion:  local,
		ServerVersion: update.Version,
		Applied:       true,
		Keys:          len(patch),
	}
	h.logger.Log(event)

	if len(patch) == 0 {
		return nil
	}

	if err := h.report(ctx, patch); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
	return nil
}

// Watermark returns the handler's watermark.
func (h *Handler) Watermark() *Watermark {
	return h.watermark
}
