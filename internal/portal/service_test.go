package portal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrecords/relay/internal/comms"
	"github.com/openrecords/relay/internal/foia"
	"github.com/openrecords/relay/internal/portal"
	"github.com/openrecords/relay/internal/tasks"
)

type fakeAgencies struct {
	agency foia.Agency
	err    error
}

func (f *fakeAgencies) GetAgency(context.Context, string) (foia.Agency, error) {
	return f.agency, f.err
}

func TestService_DispatchesToRegisteredAdapter(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	deps := newTestDeps(newFakeRequests(), &fakeRecorder{}, sink)
	manual := portal.NewManualAdapter(deps)

	reg := portal.NewRegistry()
	adapter := &mockAdapter{portalType: "mock"}
	reg.MustRegister(adapter)

	svc := portal.NewService(reg, &fakeAgencies{agency: foia.Agency{ID: "ag-1", PortalType: "Mock"}}, manual, testLogger())
	assert.Equal(t, comms.ChannelPortal, svc.Channel())

	err := svc.Send(context.Background(), foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.ChannelContact{}, comms.Outbound{Subject: "hi"})
	require.NoError(t, err)
	assert.Empty(t, sink.all())
}

func TestService_UnknownFamilyFallsBackToManual(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	deps := newTestDeps(newFakeRequests(), &fakeRecorder{}, sink)
	manual := portal.NewManualAdapter(deps)

	svc := portal.NewService(portal.NewRegistry(),
		&fakeAgencies{agency: foia.Agency{ID: "ag-1", PortalType: "govqa"}}, manual, testLogger())

	err := svc.Send(context.Background(), foia.Request{ID: "req-1", AgencyID: "ag-1"},
		foia.ChannelContact{}, comms.Outbound{Subject: "Records request"})
	require.ErrorIs(t, err, comms.ErrEscalated)
	require.Len(t, sink.all(), 1)
	assert.Equal(t, tasks.CategoryPortalManual, sink.all()[0].Category)
}

func TestService_AgencyLookupFailurePropagates(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(newFakeRequests(), &fakeRecorder{}, &fakeSink{})
	manual := portal.NewManualAdapter(deps)

	svc := portal.NewService(portal.NewRegistry(), &fakeAgencies{err: foia.ErrNotFound}, manual, testLogger())
	err := svc.Send(context.Background(), foia.Request{ID: "req-1", AgencyID: "missing"},
		foia.ChannelContact{}, comms.Outbound{})
	assert.ErrorIs(t, err, foia.ErrNotFound)
}
