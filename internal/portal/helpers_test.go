package portal_test

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/portal"
	"github.com/openrecords/relay/internal/tasks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	mu          sync.Mutex
	escalations []tasks.Escalation
}

func (s *fakeSink) Escalate(_ context.Context, esc tasks.Escalation) tasks.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations = append(s.escalations, esc)
	return tasks.Task{ID: "task-1", Category: esc.Category}
}

func (s *fakeSink) all() []tasks.Escalation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tasks.Escalation, len(s.escalations))
	copy(out, s.escalations)
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []comms.Communication
}

func (r *fakeRecorder) Record(_ context.Context, comm comms.Communication) (comms.Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	comm.ID = "comm-1"
	r.records = append(r.records, comm)
	return comm, nil
}

func (r *fakeRecorder) HasIncoming(context.Context, string, string) (bool, error) {
	return false, nil
}

func (r *fakeRecorder) all() []comms.Communication {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]comms.Communication, len(r.records))
	copy(out, r.records)
	return out
}

type fakeRequests struct {
	mu          sync.Mutex
	trackingIDs map[string]string
	statuses    map[string]string
	channels    map[string]string
	passwords   map[string]string
	channelErr  error
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{
		trackingIDs: map[string]string{},
		statuses:    map[string]string{},
		channels:    map[string]string{},
		passwords:   map[string]string{},
	}
}

func (f *fakeRequests) SetTrackingID(_ context.Context, id, trackingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackingIDs[id] = trackingID
	return nil
}

func (f *fakeRequests) UpdateStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeRequests) SetChannelStatus(_ context.Context, requestID, channel, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return f.channelErr
	}
	f.channels[requestID+"/"+channel] = status
	return nil
}

func (f *fakeRequests) RotatePortalPassword(_ context.Context, id, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[id] = password
	return nil
}

func (f *fakeRequests) tracking(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trackingIDs[id]
}

func (f *fakeRequests) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

func (f *fakeRequests) channel(requestID, channel string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[requestID+"/"+channel]
}

func (f *fakeRequests) password(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passwords[id]
}

func newTestDeps(requests *fakeRequests, rec *fakeRecorder, sink *fakeSink) portal.Deps {
	return portal.Deps{
		Requests: requests,
		Comms:    rec,
		Sink:     sink,
		Sessions: nil,
		Log:      testLogger(),
	}
}

func testContext(req foia.Request, agency foia.Agency) portal.Context {
	return portal.Context{Request: req, Agency: agency}
}
