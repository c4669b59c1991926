package comms_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrecords/relay/internal/comms"
)

func TestDispatcher_SameKeyRunsInOrder(t *testing.T) {
	t.Parallel()

	d := comms.NewDispatcher(4, 128, testLogger())
	defer d.Stop(context.Background())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		ok := d.Submit("req-1", func(ctx context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
		require.True(t, ok)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 50
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDispatcher_DifferentKeysRunConcurrently(t *testing.T) {
	t.Parallel()

	d := comms.NewDispatcher(2, 128, testLogger())
	defer d.Stop(context.Background())

	aRunning := make(chan struct{})
	release := make(chan struct{})
	var done sync.WaitGroup
	done.Add(2)

	d.Submit("req-a", func(ctx context.Context) {
		close(aRunning)
		<-release
		done.Done()
	})
	<-aRunning

	bRan := make(chan struct{})
	d.Submit("req-b", func(ctx context.Context) {
		close(bRan)
		done.Done()
	})

	// req-b must not wait for req-a.
	select {
	case <-bRan:
	case <-time.After(2 * time.Second):
		t.Fatal("job for second key did not run while first key was busy")
	}
	close(release)
	done.Wait()
}

func TestDispatcher_QueueFullRejects(t *testing.T) {
	t.Parallel()

	d := comms.NewDispatcher(1, 2, testLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	d.Submit("req-1", func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	require.True(t, d.Submit("req-1", func(ctx context.Context) {}))
	require.True(t, d.Submit("req-1", func(ctx context.Context) {}))
	assert.False(t, d.Submit("req-1", func(ctx context.Context) {}))

	close(release)
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	t.Parallel()

	d := comms.NewDispatcher(1, 8, testLogger())
	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.Submit("req-1", func(ctx context.Context) {}))
}

func TestDispatcher_StopHonorsDeadline(t *testing.T) {
	t.Parallel()

	d := comms.NewDispatcher(1, 8, testLogger())
	release := make(chan struct{})
	started := make(chan struct{})
	d.Submit("req-1", func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}
