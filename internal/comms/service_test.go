package comms_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/tasks"
)

type fakeStore struct {
	mu         sync.Mutex
	request    foia.Request
	agency     foia.Agency
	contacts   []foia.ChannelContact
	statuses   map[string]string
	dueDate    *time.Time
	requestErr error
}

func newFakeStore(req foia.Request, agency foia.Agency, contacts ...foia.ChannelContact) *fakeStore {
	return &fakeStore{request: req, agency: agency, contacts: contacts, statuses: map[string]string{}}
}

func (s *fakeStore) GetRequest(_ context.Context, id string) (foia.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requestErr != nil {
		return foia.Request{}, s.requestErr
	}
	if id != s.request.ID {
		return foia.Request{}, foia.ErrNotFound
	}
	return s.request, nil
}

func (s *fakeStore) GetRequestByReplyTag(_ context.Context, tag string) (foia.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tag != s.request.ReplyTag || tag == "" {
		return foia.Request{}, foia.ErrNotFound
	}
	return s.request, nil
}

func (s *fakeStore) GetRequestByTrackingID(_ context.Context, trackingID string) (foia.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trackingID != s.request.TrackingID || trackingID == "" {
		return foia.Request{}, foia.ErrNotFound
	}
	return s.request, nil
}

func (s *fakeStore) GetAgency(_ context.Context, id string) (foia.Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.agency.ID {
		return foia.Agency{}, foia.ErrNotFound
	}
	return s.agency, nil
}

func (s *fakeStore) ListChannels(_ context.Context, requestID string) ([]foia.ChannelContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]foia.ChannelContact, len(s.contacts))
	copy(out, s.contacts)
	return out, nil
}

func (s *fakeStore) SetChannelStatus(_ context.Context, requestID, channel, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[channel] = status
	for i := range s.contacts {
		if s.contacts[i].Channel == channel {
			s.contacts[i].Status = status
		}
	}
	return nil
}

func (s *fakeStore) SetDateDue(_ context.Context, id string, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dueDate = &due
	return nil
}

func (s *fakeStore) channelStatus(channel string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[channel]
}

func (s *fakeStore) due() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dueDate
}

type fakeRecorder struct {
	mu          sync.Mutex
	records     []comms.Communication
	incoming    map[string]bool
	recordErr   error
	incomingErr error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{incoming: map[string]bool{}}
}

func (r *fakeRecorder) Record(_ context.Context, comm comms.Communication) (comms.Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return comms.Communication{}, r.recordErr
	}
	comm.ID = "comm-1"
	r.records = append(r.records, comm)
	return comm, nil
}

func (r *fakeRecorder) HasIncoming(_ context.Context, requestID, subject string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.incomingErr != nil {
		return false, r.incomingErr
	}
	return r.incoming[subject], nil
}

func (r *fakeRecorder) markSeen(subject string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming[subject] = true
}

func (r *fakeRecorder) all() []comms.Communication {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]comms.Communication, len(r.records))
	copy(out, r.records)
	return out
}

type fakeSink struct {
	mu    sync.Mutex
	tasks []tasks.Escalation
}

func (s *fakeSink) Escalate(_ context.Context, esc tasks.Escalation) tasks.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, esc)
	return tasks.Task{ID: "task-1", Category: esc.Category}
}

func (s *fakeSink) all() []tasks.Escalation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tasks.Escalation, len(s.tasks))
	copy(out, s.tasks)
	return out
}

type fakeSender struct {
	channel comms.Channel
	mu      sync.Mutex
	calls   int
	fn      func(ctx context.Context, req foia.Request, contact foia.ChannelContact, msg comms.Outbound) error
}

func (s *fakeSender) Channel() comms.Channel { return s.channel }

func (s *fakeSender) Send(ctx context.Context, req foia.Request, contact foia.ChannelContact, msg comms.Outbound) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, req, contact, msg)
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeReceiver struct {
	mu    sync.Mutex
	calls []comms.Inbound
}

func (r *fakeReceiver) Receive(_ context.Context, req foia.Request, msg comms.Inbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, msg)
	return nil
}

func (r *fakeReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestEngine(store *fakeStore, rec *fakeRecorder, sink *fakeSink) *comms.Engine {
	log := testLogger()
	return comms.NewEngine(store, rec, comms.NewResolver(log), comms.NewDispatcher(2, 64, log), sink, 20, log)
}

func TestEngineSend_RecordsCommunicationAndDueDate(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.Agency{ID: "ag-1"},
		contact("email", "records@agency.example", foia.ContactGood),
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	sender := &fakeSender{channel: comms.ChannelEmail}
	engine.RegisterSender(sender)

	require.True(t, engine.Send("req-1", comms.Outbound{Subject: "Records request", Body: "Please send records."}))

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	comm := rec.all()[0]
	assert.Equal(t, comms.DirectionOutgoing, comm.Direction)
	assert.Equal(t, comms.ChannelEmail, comm.Channel)
	assert.Equal(t, comms.StatusSent, comm.Status)

	require.Eventually(t, func() bool { return store.due() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.all())
}

func TestEngineSend_FailureMarksChannelAndEscalates(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.Agency{ID: "ag-1", PortalType: "nextrequest"},
		contact("portal", "https://portal.agency.example", foia.ContactGood),
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	sender := &fakeSender{
		channel: comms.ChannelPortal,
		fn: func(context.Context, foia.Request, foia.ChannelContact, comms.Outbound) error {
			return comms.NewAutomationError(comms.StepLogin, "bad credentials", nil)
		},
	}
	engine.RegisterSender(sender)

	require.True(t, engine.Send("req-1", comms.Outbound{Subject: "Records request"}))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	esc := sink.all()[0]
	assert.Equal(t, tasks.CategoryLoginFailure, esc.Category)
	assert.Equal(t, "Records request", esc.RawSubject)
	assert.Equal(t, foia.ContactError, store.channelStatus("portal"))
	assert.Empty(t, rec.all())
}

func TestEngineSend_EscalatedSenderRecordsNothing(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.Agency{ID: "ag-1"},
		contact("portal", "https://portal.agency.example", foia.ContactGood),
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	sender := &fakeSender{
		channel: comms.ChannelPortal,
		fn: func(context.Context, foia.Request, foia.ChannelContact, comms.Outbound) error {
			return comms.ErrEscalated
		},
	}
	engine.RegisterSender(sender)

	require.True(t, engine.Send("req-1", comms.Outbound{Subject: "Records request"}))

	require.Eventually(t, func() bool { return sender.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.all())
	assert.Empty(t, sink.all())
	assert.Empty(t, store.channelStatus("portal"))
}

func TestEngineSend_ChannelUnavailableFallsThrough(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.Agency{ID: "ag-1", PortalType: "webform"},
		contact("portal", "https://agency.example/contact", foia.ContactGood),
		contact("email", "records@agency.example", foia.ContactGood),
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	portalSender := &fakeSender{
		channel: comms.ChannelPortal,
		fn: func(ctx context.Context, req foia.Request, _ foia.ChannelContact, _ comms.Outbound) error {
			_ = store.SetChannelStatus(ctx, req.ID, "portal", foia.ContactDisabled)
			return comms.ErrChannelUnavailable
		},
	}
	emailSender := &fakeSender{channel: comms.ChannelEmail}
	engine.RegisterSender(portalSender)
	engine.RegisterSender(emailSender)

	require.True(t, engine.Send("req-1", comms.Outbound{Subject: "Records request"}))

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, comms.ChannelEmail, rec.all()[0].Channel)
	assert.Equal(t, 1, portalSender.callCount())
	assert.Empty(t, sink.all())
}

func TestEngineSend_RequestLoadFailureEscalates(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.Agency{ID: "ag-1"},
		contact("email", "records@agency.example", foia.ContactGood),
	)
	store.requestErr = errors.New("connection refused")
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	require.True(t, engine.Send("req-1", comms.Outbound{Subject: "Records request", Body: "text"}))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	esc := sink.all()[0]
	assert.Equal(t, tasks.CategoryStoreFailure, esc.Category)
	assert.Equal(t, "req-1", esc.RequestID)
	assert.Equal(t, "Records request", esc.RawSubject)
	assert.Equal(t, "text", esc.RawBody)
	assert.Empty(t, rec.all())
}

func TestEngineSend_RecordFailureAfterSendEscalates(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.Agency{ID: "ag-1"},
		contact("email", "records@agency.example", foia.ContactGood),
	)
	rec := newFakeRecorder()
	rec.recordErr = errors.New("insert failed")
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	sender := &fakeSender{channel: comms.ChannelEmail}
	engine.RegisterSender(sender)

	require.True(t, engine.Send("req-1", comms.Outbound{Subject: "Records request", Body: "text"}))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	esc := sink.all()[0]
	assert.Equal(t, tasks.CategoryStoreFailure, esc.Category)
	assert.True(t, strings.Contains(esc.Reason, "recording failed"), esc.Reason)
	assert.Equal(t, "Records request", esc.RawSubject)
	assert.Equal(t, "text", esc.RawBody)
	assert.Equal(t, 1, sender.callCount())
}

func TestEngineSend_ChannelUnavailableReResolvesOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.Agency{ID: "ag-1", PortalType: "webform"},
		contact("portal", "https://agency.example/contact", foia.ContactGood),
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	// The sender keeps reporting unavailable without deactivating its
	// channel, so re-resolving lands on it again.
	portalSender := &fakeSender{
		channel: comms.ChannelPortal,
		fn: func(context.Context, foia.Request, foia.ChannelContact, comms.Outbound) error {
			return comms.ErrChannelUnavailable
		},
	}
	engine.RegisterSender(portalSender)

	require.True(t, engine.Send("req-1", comms.Outbound{Subject: "Records request", Body: "text"}))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	esc := sink.all()[0]
	assert.Equal(t, tasks.CategoryNoChannel, esc.Category)
	assert.Equal(t, "Records request", esc.RawSubject)
	assert.Equal(t, 2, portalSender.callCount())
	assert.Empty(t, rec.all())
}

func TestEngineSend_NoChannelEscalates(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.Agency{ID: "ag-1"},
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	require.True(t, engine.Send("req-1", comms.Outbound{Subject: "Records request", Body: "text"}))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	esc := sink.all()[0]
	assert.Equal(t, tasks.CategoryNoChannel, esc.Category)
	assert.Equal(t, "Records request", esc.RawSubject)
	assert.Equal(t, "text", esc.RawBody)
	assert.Empty(t, rec.all())
}

func TestHandleInbound_UnmatchedEscalatesWithRawMessage(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1", ReplyTag: "a1b2c3", TrackingID: "24-00123"},
		foia.Agency{ID: "ag-1"},
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	engine.HandleInbound(context.Background(), comms.Inbound{
		Channel:   comms.ChannelEmail,
		From:      "clerk@agency.example",
		Recipient: "requests@openrecords.example",
		Subject:   "Out of office",
		Body:      "I will return Monday.",
	})

	escs := sink.all()
	require.Len(t, escs, 1)
	assert.Equal(t, tasks.CategoryUnknownFormat, escs[0].Category)
	assert.Equal(t, "Out of office", escs[0].RawSubject)
	assert.Equal(t, "I will return Monday.", escs[0].RawBody)
	assert.Empty(t, rec.all())
}

func TestHandleInbound_CorrelatesByReplyTag(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1", ReplyTag: "a1b2c3"},
		foia.Agency{ID: "ag-1"},
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	engine.HandleInbound(context.Background(), comms.Inbound{
		Channel:   comms.ChannelEmail,
		From:      "clerk@agency.example",
		Recipient: "requests+a1b2c3@openrecords.example",
		Subject:   "Your request has been received",
		Body:      "We got it.",
	})

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	comm := rec.all()[0]
	assert.Equal(t, comms.DirectionIncoming, comm.Direction)
	assert.Equal(t, comms.StatusAccepted, comm.Status)
	assert.Equal(t, "req-1", comm.RequestID)
	assert.Empty(t, sink.all())
}

func TestHandleInbound_CorrelatesByTrackingToken(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1", TrackingID: "24-00123"},
		foia.Agency{ID: "ag-1"},
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	engine.HandleInbound(context.Background(), comms.Inbound{
		Channel:   comms.ChannelEmail,
		From:      "clerk@agency.example",
		Recipient: "requests@openrecords.example",
		Subject:   "Update on request 24-00123",
		Body:      "Still working on it.",
	})

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "req-1", rec.all()[0].RequestID)
}

func TestHandleInbound_ReplayedMessageSkipped(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1", ReplyTag: "a1b2c3"},
		foia.Agency{ID: "ag-1"},
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)

	msg := comms.Inbound{
		Channel:   comms.ChannelEmail,
		Recipient: "requests+a1b2c3@openrecords.example",
		Subject:   "Your request has been received",
		Body:      "We got it.",
	}
	engine.HandleInbound(context.Background(), msg)
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	rec.markSeen(msg.Subject)
	engine.HandleInbound(context.Background(), msg)
	require.NoError(t, engine.Stop(context.Background()))

	assert.Len(t, rec.all(), 1)
	assert.Empty(t, sink.all())
}

func TestHandleInbound_ReplayCheckFailureEscalates(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1", ReplyTag: "a1b2c3"},
		foia.Agency{ID: "ag-1"},
	)
	rec := newFakeRecorder()
	rec.incomingErr = errors.New("query failed")
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	engine.HandleInbound(context.Background(), comms.Inbound{
		Channel:   comms.ChannelEmail,
		Recipient: "requests+a1b2c3@openrecords.example",
		Subject:   "Your request has been received",
		Body:      "We got it.",
	})

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	esc := sink.all()[0]
	assert.Equal(t, tasks.CategoryStoreFailure, esc.Category)
	assert.Equal(t, "req-1", esc.RequestID)
	assert.Equal(t, "Your request has been received", esc.RawSubject)
	assert.Equal(t, "We got it.", esc.RawBody)
	assert.Empty(t, rec.all())
}

func TestHandleInbound_RecordFailureEscalates(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1", ReplyTag: "a1b2c3"},
		foia.Agency{ID: "ag-1"},
	)
	rec := newFakeRecorder()
	rec.recordErr = errors.New("insert failed")
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	engine.HandleInbound(context.Background(), comms.Inbound{
		Channel:   comms.ChannelEmail,
		Recipient: "requests+a1b2c3@openrecords.example",
		Subject:   "Your request has been received",
		Body:      "We got it.",
	})

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	esc := sink.all()[0]
	assert.Equal(t, tasks.CategoryStoreFailure, esc.Category)
	assert.Equal(t, "Your request has been received", esc.RawSubject)
	assert.Empty(t, rec.all())
}

func TestHandleInbound_PortalAgencyRoutesToReceiver(t *testing.T) {
	t.Parallel()

	store := newFakeStore(
		foia.Request{ID: "req-1", AgencyID: "ag-1", ReplyTag: "a1b2c3"},
		foia.Agency{ID: "ag-1", PortalType: "nextrequest"},
	)
	rec := newFakeRecorder()
	sink := &fakeSink{}
	engine := newTestEngine(store, rec, sink)
	defer engine.Stop(context.Background())

	receiver := &fakeReceiver{}
	engine.SetReceiver(receiver)

	engine.HandleInbound(context.Background(), comms.Inbound{
		Channel:   comms.ChannelEmail,
		Recipient: "requests+a1b2c3@openrecords.example",
		Subject:   "Your first record request 24-00123 has been opened.",
	})

	require.Eventually(t, func() bool { return receiver.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.all())
}
