// Package portal provides the adapter framework for agency records
// portals: a registry of portal families, the manual and web-form
// fallback adapters, and the ordered-pattern inbound router scripted
// adapters classify messages with.
package portal

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/portal/session"
)

// PortalType identifies a portal software family (e.g. "nextrequest").
type PortalType string

// String returns the portal type as a plain string.
func (p PortalType) String() string {
	return string(p)
}

// Context carries the request and agency a portal operation targets.
type Context struct {
	Request foia.Request
	Agency  foia.Agency
}

// Adapter is the base interface every portal family implements. Send and
// Receive must never let an automation or classification error escape:
// every failure ends in an escalation task.
type Adapter interface {
	Type() PortalType
	Descriptor() Descriptor
	Send(ctx context.Context, pc Context, msg comms.Outbound) error
	Receive(ctx context.Context, pc Context, msg comms.Inbound) error
}

// Descriptor holds read-only metadata for a registered portal family.
type Descriptor struct {
	Type        PortalType
	DisplayName string
	Scripted    bool
}

// HealthProber is an optional interface for adapters that can verify a
// portal account without sending anything.
type HealthProber interface {
	Probe(ctx context.Context, pc Context) error
}

// RequestStore is the slice of request persistence adapters need.
type RequestStore interface {
	SetTrackingID(ctx context.Context, id, trackingID string) error
	UpdateStatus(ctx context.Context, id, status string) error
	SetChannelStatus(ctx context.Context, requestID, channel, status string) error
	RotatePortalPassword(ctx context.Context, id, password string) error
}

// SessionFactory builds a fresh automator for one portal operation.
type SessionFactory func() (*session.Automator, error)

// Deps bundles the collaborators handed to every adapter.
type Deps struct {
	Requests RequestStore
	Comms    comms.Recorder
	Sink     comms.Escalator
	Sessions SessionFactory
	Log      *slog.Logger
}

// normalizeType lowercases and trims a portal type.
func normalizeType(raw string) PortalType {
	return PortalType(strings.ToLower(strings.TrimSpace(raw)))
}
