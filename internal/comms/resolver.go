package comms

import (
	"log/slog"

	"github.com/openrecords/relay/internal/foia"
)

// Resolver picks the delivery channel for an outbound message. It is pure
// over the request's channel contact state: portal beats email beats fax
// beats mail, and any channel whose contact is in error status is skipped
// with a logged fall-through.
type Resolver struct {
	log *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(log *slog.Logger) *Resolver {
	return &Resolver{log: log.With(slog.String("component", "channel_resolver"))}
}

// Resolve returns the highest-priority usable channel for the request, or a
// ConfigurationError when none is configured and healthy.
func (r *Resolver) Resolve(req foia.Request, contacts []foia.ChannelContact) (Channel, error) {
	byChannel := make(map[Channel]foia.ChannelContact, len(contacts))
	for _, c := range contacts {
		byChannel[Channel(c.Channel)] = c
	}
	for _, ch := range channelPriority {
		contact, ok := byChannel[ch]
		if !ok || contact.Address == "" {
			continue
		}
		switch contact.Status {
		case foia.ContactError:
			r.log.Info("skipping channel in error status",
				slog.String("request_id", req.ID),
				slog.String("channel", ch.String()))
			continue
		case foia.ContactDisabled:
			r.log.Debug("skipping disabled channel",
				slog.String("request_id", req.ID),
				slog.String("channel", ch.String()))
			continue
		}
		return ch, nil
	}
	return "", &ConfigurationError{Reason: "no-channel-available"}
}
