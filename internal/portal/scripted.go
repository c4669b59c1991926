package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/tasks"
)

// Scripted bundles the behavior shared by scripted portal adapters:
// manual fallback on any automation failure, router-backed receive with
// escalation on classification failure, and the append-and-accept step
// for classified messages.
type Scripted struct {
	Deps   Deps
	Manual *ManualAdapter
	Log    *slog.Logger

	router *Router
}

// NewScripted creates the shared scripted-adapter core. The concrete
// adapter installs its route table with SetRouter.
func NewScripted(deps Deps, manual *ManualAdapter, name string) Scripted {
	return Scripted{
		Deps:   deps,
		Manual: manual,
		Log:    deps.Log.With(slog.String("component", "portal_"+name)),
	}
}

// SetRouter installs the adapter's ordered route table.
func (s *Scripted) SetRouter(r *Router) {
	s.router = r
}

// SendFallback converts an automation failure into a manual escalation
// with the category matching the failing step. Always returns
// ErrEscalated so the engine records no success.
func (s *Scripted) SendFallback(ctx context.Context, pc Context, msg comms.Outbound, aerr *comms.AutomationError) error {
	return s.Manual.FallbackSend(ctx, pc, msg, CategoryForStep(aerr.Step), aerr.Error())
}

// ReceiveRouted classifies the message through the route table. A
// classification or automation failure escalates with its category; no
// error escapes to the caller.
func (s *Scripted) ReceiveRouted(ctx context.Context, pc Context, msg comms.Inbound) error {
	err := s.router.Route(ctx, pc, msg)
	if err == nil {
		return nil
	}
	var cls *comms.ClassificationError
	if errors.As(err, &cls) {
		s.Manual.FallbackReceive(ctx, pc, msg, categoryForClass(cls.Category), cls.Error())
		return nil
	}
	var auto *comms.AutomationError
	if errors.As(err, &auto) {
		s.Manual.FallbackReceive(ctx, pc, msg, CategoryForStep(auto.Step), auto.Error())
		return nil
	}
	s.Manual.FallbackReceive(ctx, pc, msg, tasks.CategoryPortalManual, err.Error())
	return nil
}

// Accept appends the classified message to the communication log and marks
// it accepted.
func (s *Scripted) Accept(ctx context.Context, pc Context, msg comms.Inbound) error {
	comm, err := s.Deps.Comms.Record(ctx, comms.Communication{
		RequestID: pc.Request.ID,
		Direction: comms.DirectionIncoming,
		Channel:   comms.ChannelPortal,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Status:    comms.StatusAccepted,
	})
	if err != nil {
		return fmt.Errorf("record incoming communication: %w", err)
	}
	s.Log.Info("portal message accepted",
		slog.String("request_id", pc.Request.ID),
		slog.String("communication_id", comm.ID))
	return nil
}

// ValidateTracking checks a parsed tracking ID against the one on file.
func ValidateTracking(req foia.Request, parsed string) *comms.ClassificationError {
	if req.TrackingID != "" && req.TrackingID != parsed {
		return &comms.ClassificationError{
			Category: comms.ClassTrackingMismatch,
			Detail: fmt.Sprintf("message references %s but request %s tracks %s",
				parsed, req.ID, req.TrackingID),
		}
	}
	return nil
}

// CategoryForStep maps an automation step to its escalation category.
func CategoryForStep(step string) string {
	switch step {
	case comms.StepLogin:
		return tasks.CategoryLoginFailure
	case comms.StepUpload:
		return tasks.CategoryUploadFailure
	case comms.StepTimeout:
		return tasks.CategoryTimeout
	case comms.StepCancelled:
		return tasks.CategoryCancelled
	}
	return tasks.CategoryPortalManual
}

func categoryForClass(category string) string {
	switch category {
	case comms.ClassTrackingMismatch:
		return tasks.CategoryTrackingMismatch
	case comms.ClassMalformedField:
		return tasks.CategoryMalformedField
	}
	return tasks.CategoryUnknownFormat
}
