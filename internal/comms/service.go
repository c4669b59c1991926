package comms

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/openrecords/relay/internal/calendar"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/tasks"
)

// RequestStore is the slice of the request store the engine needs.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (foia.Request, error)
	GetRequestByReplyTag(ctx context.Context, tag string) (foia.Request, error)
	GetRequestByTrackingID(ctx context.Context, trackingID string) (foia.Request, error)
	GetAgency(ctx context.Context, id string) (foia.Agency, error)
	ListChannels(ctx context.Context, requestID string) ([]foia.ChannelContact, error)
	SetChannelStatus(ctx context.Context, requestID, channel, status string) error
	SetDateDue(ctx context.Context, id string, due time.Time) error
}

// Recorder appends to the communication log.
type Recorder interface {
	Record(ctx context.Context, comm Communication) (Communication, error)
	HasIncoming(ctx context.Context, requestID, subject string) (bool, error)
}

// Escalator hands failures to the human task queue.
type Escalator interface {
	Escalate(ctx context.Context, esc tasks.Escalation) tasks.Task
}

// OutboundSender delivers an outbound message on one channel. A sender that
// converts its own failure into an escalation returns ErrEscalated so the
// engine records nothing further.
type OutboundSender interface {
	Channel() Channel
	Send(ctx context.Context, req foia.Request, contact foia.ChannelContact, msg Outbound) error
}

// InboundReceiver classifies an inbound message for a request whose agency
// uses a portal. Implementations must not let classification errors escape;
// every failure ends in an escalation.
type InboundReceiver interface {
	Receive(ctx context.Context, req foia.Request, msg Inbound) error
}

// Engine routes outbound messages to the resolved channel and inbound
// messages to classification, serialized per request.
type Engine struct {
	store        RequestStore
	comms        Recorder
	resolver     *Resolver
	dispatcher   *Dispatcher
	sink         Escalator
	receiver     InboundReceiver
	senders      map[Channel]OutboundSender
	responseDays int
	log          *slog.Logger
}

// NewEngine assembles the routing engine. Senders are registered afterwards
// with RegisterSender; the receiver may be nil when no portal families are
// configured.
func NewEngine(store RequestStore, comms Recorder, resolver *Resolver, dispatcher *Dispatcher,
	sink Escalator, responseDays int, log *slog.Logger) *Engine {
	if responseDays <= 0 {
		responseDays = 20
	}
	return &Engine{
		store:        store,
		comms:        comms,
		resolver:     resolver,
		dispatcher:   dispatcher,
		sink:         sink,
		senders:      map[Channel]OutboundSender{},
		responseDays: responseDays,
		log:          log.With(slog.String("component", "engine")),
	}
}

// RegisterSender installs the delivery backend for one channel.
func (e *Engine) RegisterSender(s OutboundSender) {
	e.senders[s.Channel()] = s
}

// SetReceiver installs the portal-backed inbound classifier.
func (e *Engine) SetReceiver(r InboundReceiver) {
	e.receiver = r
}

// Send enqueues outbound delivery for the request. Work for the same
// request runs in arrival order.
func (e *Engine) Send(requestID string, msg Outbound) bool {
	msg.RequestID = requestID
	return e.dispatcher.Submit(requestID, func(ctx context.Context) {
		e.deliver(ctx, requestID, msg)
	})
}

func (e *Engine) deliver(ctx context.Context, requestID string, msg Outbound) {
	e.deliverOnce(ctx, requestID, msg, false)
}

// deliverOnce runs one delivery attempt. redelivered marks the single
// re-resolve allowed after a sender reports its channel unavailable; a
// second unavailable channel escalates instead of resolving again.
func (e *Engine) deliverOnce(ctx context.Context, requestID string, msg Outbound, redelivered bool) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		e.sink.Escalate(ctx, tasks.Escalation{
			RequestID:  requestID,
			Category:   tasks.CategoryStoreFailure,
			Reason:     "load request for send: " + err.Error(),
			RawSubject: msg.Subject,
			RawBody:    msg.Body,
		})
		return
	}
	contacts, err := e.store.ListChannels(ctx, requestID)
	if err != nil {
		e.sink.Escalate(ctx, tasks.Escalation{
			RequestID:  requestID,
			Category:   tasks.CategoryStoreFailure,
			Reason:     "load channels for send: " + err.Error(),
			RawSubject: msg.Subject,
			RawBody:    msg.Body,
		})
		return
	}
	ch, err := e.resolver.Resolve(req, contacts)
	if err != nil {
		e.sink.Escalate(ctx, tasks.Escalation{
			RequestID:  req.ID,
			Category:   tasks.CategoryNoChannel,
			Reason:     err.Error(),
			RawSubject: msg.Subject,
			RawBody:    msg.Body,
		})
		return
	}
	sender, ok := e.senders[ch]
	if !ok {
		e.sink.Escalate(ctx, tasks.Escalation{
			RequestID:  req.ID,
			Category:   tasks.CategoryNoChannel,
			Reason:     "no sender registered for channel " + ch.String(),
			RawSubject: msg.Subject,
			RawBody:    msg.Body,
		})
		return
	}
	var contact foia.ChannelContact
	for _, c := range contacts {
		if Channel(c.Channel) == ch {
			contact = c
			break
		}
	}

	err = sender.Send(ctx, req, contact, msg)
	switch {
	case err == nil:
		comm, recordErr := e.comms.Record(ctx, Communication{
			RequestID: req.ID,
			Direction: DirectionOutgoing,
			Channel:   ch,
			Subject:   msg.Subject,
			Body:      msg.Body,
			Status:    StatusSent,
		})
		if recordErr != nil {
			// The message is already out; the escalation is the only
			// durable trace of the send.
			e.sink.Escalate(ctx, tasks.Escalation{
				RequestID:  req.ID,
				Category:   tasks.CategoryStoreFailure,
				Reason:     "sent on " + ch.String() + " but recording failed: " + recordErr.Error(),
				RawSubject: msg.Subject,
				RawBody:    msg.Body,
			})
			return
		}
		due := calendar.DueDate(time.Now(), e.responseDays)
		if err := e.store.SetDateDue(ctx, req.ID, due); err != nil {
			e.log.Error("set date due", slog.String("request_id", req.ID), slog.Any("error", err))
		}
		e.log.Info("outbound communication sent",
			slog.String("request_id", req.ID),
			slog.String("channel", ch.String()),
			slog.String("communication_id", comm.ID))
	case errors.Is(err, ErrEscalated):
		e.log.Info("send escalated by sender",
			slog.String("request_id", req.ID),
			slog.String("channel", ch.String()))
	case errors.Is(err, ErrChannelUnavailable):
		if redelivered {
			e.sink.Escalate(ctx, tasks.Escalation{
				RequestID:  req.ID,
				Category:   tasks.CategoryNoChannel,
				Reason:     "channel " + ch.String() + " still unavailable after re-resolving",
				RawSubject: msg.Subject,
				RawBody:    msg.Body,
			})
			return
		}
		e.log.Info("channel deactivated, resolving again",
			slog.String("request_id", req.ID),
			slog.String("channel", ch.String()))
		e.deliverOnce(ctx, requestID, msg, true)
	default:
		if err := e.store.SetChannelStatus(ctx, req.ID, ch.String(), foia.ContactError); err != nil &&
			!errors.Is(err, foia.ErrNotFound) {
			e.log.Error("mark channel error", slog.String("request_id", req.ID), slog.Any("error", err))
		}
		e.sink.Escalate(ctx, tasks.Escalation{
			RequestID:  req.ID,
			Category:   categoryFor(err),
			Reason:     err.Error(),
			RawSubject: msg.Subject,
			RawBody:    msg.Body,
		})
	}
}

// categoryFor maps a send failure to its escalation category.
func categoryFor(err error) string {
	var auto *AutomationError
	if errors.As(err, &auto) {
		switch auto.Step {
		case StepLogin:
			return tasks.CategoryLoginFailure
		case StepUpload:
			return tasks.CategoryUploadFailure
		case StepTimeout:
			return tasks.CategoryTimeout
		case StepCancelled:
			return tasks.CategoryCancelled
		}
		return tasks.CategoryPortalManual
	}
	return tasks.CategoryDeliveryFailure
}

// trackingToken matches agency tracking identifiers in subject lines,
// e.g. 24-00123 or F-2024-01987.
var trackingToken = regexp.MustCompile(`\b[A-Z]{0,3}-?\d{2,4}-\d{3,6}\b`)

// HandleInbound correlates a raw inbound message to a request and enqueues
// classification. Messages that match no request escalate immediately.
func (e *Engine) HandleInbound(ctx context.Context, msg Inbound) {
	req, ok := e.correlate(ctx, msg)
	if !ok {
		e.sink.Escalate(ctx, tasks.Escalation{
			Category:   tasks.CategoryUnknownFormat,
			Reason:     "inbound message matched no request",
			RawSubject: msg.Subject,
			RawBody:    msg.Body,
		})
		return
	}
	e.dispatcher.Submit(req.ID, func(ctx context.Context) {
		e.classify(ctx, req.ID, msg)
	})
}

// correlate finds the request an inbound message belongs to: first by the
// plus-address tag on the recipient, then by scanning the subject for a
// known tracking ID.
func (e *Engine) correlate(ctx context.Context, msg Inbound) (foia.Request, bool) {
	if tag := replyTag(msg.Recipient); tag != "" {
		req, err := e.store.GetRequestByReplyTag(ctx, tag)
		if err == nil {
			return req, true
		}
		if !errors.Is(err, foia.ErrNotFound) {
			e.log.Error("lookup by reply tag", slog.String("tag", tag), slog.Any("error", err))
		}
	}
	for _, token := range trackingToken.FindAllString(msg.Subject, -1) {
		req, err := e.store.GetRequestByTrackingID(ctx, token)
		if err == nil {
			return req, true
		}
		if !errors.Is(err, foia.ErrNotFound) {
			e.log.Error("lookup by tracking id", slog.String("token", token), slog.Any("error", err))
		}
	}
	return foia.Request{}, false
}

// replyTag extracts the plus-address tag from an address like
// requests+a1b2c3@example.org.
func replyTag(address string) string {
	local, _, ok := strings.Cut(address, "@")
	if !ok {
		return ""
	}
	_, tag, ok := strings.Cut(local, "+")
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(tag))
}

func (e *Engine) classify(ctx context.Context, requestID string, msg Inbound) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		e.escalateInbound(ctx, requestID, "load request for inbound: "+err.Error(), msg)
		return
	}
	seen, err := e.comms.HasIncoming(ctx, req.ID, msg.Subject)
	if err != nil {
		e.escalateInbound(ctx, req.ID, "check inbound replay: "+err.Error(), msg)
		return
	}
	if seen {
		e.log.Info("skipping replayed inbound message",
			slog.String("request_id", req.ID),
			slog.String("subject", msg.Subject))
		return
	}
	agency, err := e.store.GetAgency(ctx, req.AgencyID)
	if err != nil {
		e.escalateInbound(ctx, req.ID, "load agency for inbound: "+err.Error(), msg)
		return
	}
	if agency.PortalType != "" && e.receiver != nil {
		if err := e.receiver.Receive(ctx, req, msg); err != nil {
			e.log.Error("inbound classification", slog.String("request_id", req.ID), slog.Any("error", err))
		}
		return
	}
	comm, err := e.comms.Record(ctx, Communication{
		RequestID: req.ID,
		Direction: DirectionIncoming,
		Channel:   msg.Channel,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Status:    StatusAccepted,
	})
	if err != nil {
		e.escalateInbound(ctx, req.ID, "record inbound communication: "+err.Error(), msg)
		return
	}
	e.log.Info("inbound communication accepted",
		slog.String("request_id", req.ID),
		slog.String("communication_id", comm.ID))
}

// escalateInbound turns an inbound processing failure into a task carrying
// the raw message, so no inbound message is dropped without a trace.
func (e *Engine) escalateInbound(ctx context.Context, requestID, reason string, msg Inbound) {
	e.sink.Escalate(ctx, tasks.Escalation{
		RequestID:  requestID,
		Category:   tasks.CategoryStoreFailure,
		Reason:     reason,
		RawSubject: msg.Subject,
		RawBody:    msg.Body,
	})
}

// Stop drains the dispatcher.
func (e *Engine) Stop(ctx context.Context) error {
	return e.dispatcher.Stop(ctx)
}
