package portal

import (
	"context"
	"log/slog"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/tasks"
)

const TypeWebForm PortalType = "webform"

// WebFormAdapter covers portals that are plain one-shot web forms. The
// first message on a request escalates so a human fills the form; once the
// agency has issued a tracking ID the adapter deactivates the portal
// channel so later messages fall through to email, fax, or mail.
type WebFormAdapter struct {
	deps   Deps
	manual *ManualAdapter
	log    *slog.Logger
}

// NewWebFormAdapter creates the web-form adapter.
func NewWebFormAdapter(deps Deps, manual *ManualAdapter) *WebFormAdapter {
	return &WebFormAdapter{
		deps:   deps,
		manual: manual,
		log:    deps.Log.With(slog.String("component", "portal_webform")),
	}
}

func (w *WebFormAdapter) Type() PortalType {
	return TypeWebForm
}

func (w *WebFormAdapter) Descriptor() Descriptor {
	return Descriptor{
		Type:        TypeWebForm,
		DisplayName: "Web form",
		Scripted:    false,
	}
}

// Send escalates the first message on a request. Once a tracking ID is on
// file the web form has served its purpose: the portal channel is disabled
// and the engine re-resolves to the next channel.
func (w *WebFormAdapter) Send(ctx context.Context, pc Context, msg comms.Outbound) error {
	if pc.Request.TrackingID == "" {
		return w.manual.FallbackSend(ctx, pc, msg, tasks.CategoryFirstContact,
			"submit the initial request through the agency web form")
	}
	err := w.deps.Requests.SetChannelStatus(ctx, pc.Request.ID,
		comms.ChannelPortal.String(), foia.ContactDisabled)
	if err != nil {
		// Without the deactivation write the engine would resolve the
		// portal again, so hand the message to a human instead.
		return w.manual.FallbackSend(ctx, pc, msg, tasks.CategoryPortalManual,
			"could not deactivate web form portal: "+err.Error())
	}
	w.log.Info("web form portal deactivated after first contact",
		slog.String("request_id", pc.Request.ID))
	return comms.ErrChannelUnavailable
}

// Receive escalates: web forms have no machine-readable reply format.
func (w *WebFormAdapter) Receive(ctx context.Context, pc Context, msg comms.Inbound) error {
	w.manual.FallbackReceive(ctx, pc, msg, tasks.CategoryPortalManual,
		"web form reply requires manual filing")
	return nil
}
