package portal

import (
	"context"
	"log/slog"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/tasks"
)

const TypeManual PortalType = "manual"

// ManualAdapter is the default portal adapter for agencies without
// automation support. Every send and receive becomes a human task; the
// message content is preserved verbatim so nothing is lost.
type ManualAdapter struct {
	deps Deps
	log  *slog.Logger
}

// NewManualAdapter creates the manual fallback adapter.
func NewManualAdapter(deps Deps) *ManualAdapter {
	return &ManualAdapter{
		deps: deps,
		log:  deps.Log.With(slog.String("component", "portal_manual")),
	}
}

func (m *ManualAdapter) Type() PortalType {
	return TypeManual
}

func (m *ManualAdapter) Descriptor() Descriptor {
	return Descriptor{
		Type:        TypeManual,
		DisplayName: "Manual portal",
		Scripted:    false,
	}
}

// Send escalates so a human submits the message through the portal.
func (m *ManualAdapter) Send(ctx context.Context, pc Context, msg comms.Outbound) error {
	return m.FallbackSend(ctx, pc, msg, tasks.CategoryPortalManual,
		"portal has no automation support, submit manually")
}

// Receive escalates so a human reads and files the portal message.
func (m *ManualAdapter) Receive(ctx context.Context, pc Context, msg comms.Inbound) error {
	m.FallbackReceive(ctx, pc, msg, tasks.CategoryPortalManual,
		"portal has no automation support, file manually")
	return nil
}

// FallbackSend converts a failed or unsupported outbound send into an
// escalation task. Scripted adapters call this with the category matching
// their failing step and the typed error text as reason.
func (m *ManualAdapter) FallbackSend(ctx context.Context, pc Context, msg comms.Outbound, category, reason string) error {
	m.deps.Sink.Escalate(ctx, tasks.Escalation{
		RequestID:  pc.Request.ID,
		Category:   category,
		Reason:     reason,
		RawSubject: msg.Subject,
		RawBody:    msg.Body,
	})
	return comms.ErrEscalated
}

// FallbackReceive converts a failed inbound classification into an
// escalation task, preserving the raw message.
func (m *ManualAdapter) FallbackReceive(ctx context.Context, pc Context, msg comms.Inbound, category, reason string) {
	m.deps.Sink.Escalate(ctx, tasks.Escalation{
		RequestID:  pc.Request.ID,
		Category:   category,
		Reason:     reason,
		RawSubject: msg.Subject,
		RawBody:    msg.Body,
	})
}
