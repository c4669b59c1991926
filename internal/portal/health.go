package portal

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
)

// HealthStore is the slice of the request store the sweeper needs.
type HealthStore interface {
	ListRequestsWithChannelStatus(ctx context.Context, channel, status string) ([]foia.Request, error)
	GetAgency(ctx context.Context, id string) (foia.Agency, error)
	SetChannelStatus(ctx context.Context, requestID, channel, status string) error
}

// Sweeper periodically re-probes portals whose channel is marked error and
// flips them back to good after a successful login, so the resolver can
// use them again.
type Sweeper struct {
	registry *Registry
	store    HealthStore
	cron     *cron.Cron
	spec     string
	log      *slog.Logger
}

// NewSweeper creates a Sweeper running on the given cron spec.
func NewSweeper(registry *Registry, store HealthStore, spec string, log *slog.Logger) *Sweeper {
	if spec == "" {
		spec = "@every 1h"
	}
	return &Sweeper{
		registry: registry,
		store:    store,
		cron:     cron.New(),
		spec:     spec,
		log:      log.With(slog.String("component", "portal_health")),
	}
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep probes every errored portal once.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	requests, err := s.store.ListRequestsWithChannelStatus(ctx,
		comms.ChannelPortal.String(), foia.ContactError)
	if err != nil {
		s.log.Error("list errored portals", slog.Any("error", err))
		return
	}
	for _, req := range requests {
		agency, err := s.store.GetAgency(ctx, req.AgencyID)
		if err != nil {
			s.log.Error("load agency", slog.String("request_id", req.ID), slog.Any("error", err))
			continue
		}
		prober, ok := s.registry.Prober(normalizeType(agency.PortalType))
		if !ok {
			continue
		}
		if err := prober.Probe(ctx, Context{Request: req, Agency: agency}); err != nil {
			s.log.Info("portal still unhealthy",
				slog.String("request_id", req.ID),
				slog.Any("error", err))
			continue
		}
		err = s.store.SetChannelStatus(ctx, req.ID, comms.ChannelPortal.String(), foia.ContactGood)
		if err != nil {
			s.log.Error("restore portal channel", slog.String("request_id", req.ID), slog.Any("error", err))
			continue
		}
		s.log.Info("portal channel restored", slog.String("request_id", req.ID))
	}
}
