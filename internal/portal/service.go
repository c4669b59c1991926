package portal

import (
	"context"
	"log/slog"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
)

// AgencyGetter loads the agency a request targets.
type AgencyGetter interface {
	GetAgency(ctx context.Context, id string) (foia.Agency, error)
}

// Service is the portal channel backend: it looks up the agency's portal
// family in the registry and dispatches to that adapter, falling back to
// the manual adapter for unknown families. It implements both the
// engine's outbound sender and inbound receiver contracts.
type Service struct {
	registry *Registry
	agencies AgencyGetter
	manual   *ManualAdapter
	log      *slog.Logger
}

// NewService creates the portal channel service.
func NewService(registry *Registry, agencies AgencyGetter, manual *ManualAdapter, log *slog.Logger) *Service {
	return &Service{
		registry: registry,
		agencies: agencies,
		manual:   manual,
		log:      log.With(slog.String("component", "portal_service")),
	}
}

// Channel identifies this sender to the engine.
func (s *Service) Channel() comms.Channel {
	return comms.ChannelPortal
}

func (s *Service) adapterFor(ctx context.Context, req foia.Request) (Adapter, Context, error) {
	agency, err := s.agencies.GetAgency(ctx, req.AgencyID)
	if err != nil {
		return nil, Context{}, err
	}
	pc := Context{Request: req, Agency: agency}
	adapter, ok := s.registry.Get(normalizeType(agency.PortalType))
	if !ok {
		s.log.Info("no adapter for portal family, using manual",
			slog.String("request_id", req.ID),
			slog.String("portal_type", agency.PortalType))
		return s.manual, pc, nil
	}
	return adapter, pc, nil
}

// Send delivers an outbound message through the agency's portal adapter.
func (s *Service) Send(ctx context.Context, req foia.Request, _ foia.ChannelContact, msg comms.Outbound) error {
	adapter, pc, err := s.adapterFor(ctx, req)
	if err != nil {
		return err
	}
	return adapter.Send(ctx, pc, msg)
}

// Receive classifies an inbound portal message through the agency's
// adapter.
func (s *Service) Receive(ctx context.Context, req foia.Request, msg comms.Inbound) error {
	adapter, pc, err := s.adapterFor(ctx, req)
	if err != nil {
		return err
	}
	return adapter.Receive(ctx, pc, msg)
}
