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

func TestManualAdapter_SendEscalates(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	manual := portal.NewManualAdapter(newTestDeps(newFakeRequests(), &fakeRecorder{}, sink))

	pc := testContext(foia.Request{ID: "req-1"}, foia.Agency{ID: "ag-1"})
	err := manual.Send(context.Background(), pc, comms.Outbound{
		Subject: "Records request",
		Body:    "Please send the records.",
	})
	require.ErrorIs(t, err, comms.ErrEscalated)

	escs := sink.all()
	require.Len(t, escs, 1)
	assert.Equal(t, tasks.CategoryPortalManual, escs[0].Category)
	assert.Equal(t, "req-1", escs[0].RequestID)
	assert.Equal(t, "Records request", escs[0].RawSubject)
	assert.Equal(t, "Please send the records.", escs[0].RawBody)
}

func TestManualAdapter_ReceiveEscalatesAndSwallows(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	rec := &fakeRecorder{}
	manual := portal.NewManualAdapter(newTestDeps(newFakeRequests(), rec, sink))

	pc := testContext(foia.Request{ID: "req-1"}, foia.Agency{ID: "ag-1"})
	err := manual.Receive(context.Background(), pc, comms.Inbound{
		Subject: "Portal notification",
		Body:    "Something happened.",
	})
	require.NoError(t, err)

	escs := sink.all()
	require.Len(t, escs, 1)
	assert.Equal(t, tasks.CategoryPortalManual, escs[0].Category)
	assert.Equal(t, "Portal notification", escs[0].RawSubject)
	assert.Empty(t, rec.all())
}
