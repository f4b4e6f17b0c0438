package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Enqueue_DeduplicatesActiveID(t *testing.T) {
	q := NewQueue(2)

	assert.True(t, q.Enqueue("job-1"))
	assert.False(t, q.Enqueue("job-1"))
	assert.True(t, q.Active("job-1"))

	queued, running := q.Stats()
	assert.Equal(t, 1, queued)
	assert.Equal(t, 0, running)
}

func TestQueue_Worker_RunsAndReleases(t *testing.T) {
	q := NewQueue(1)

	var mu sync.Mutex
	seen := make([]string, 0)
	q.Start(context.Background(), func(_ context.Context, id string) error {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return nil
	})
	defer q.Stop()

	require.True(t, q.Enqueue("job-1"))
	require.Eventually(t, func() bool { return !q.Active("job-1") }, time.Second, 10*time.Millisecond)

	// a finished id can be queued again
	require.True(t, q.Enqueue("job-1"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_Worker_ErrorReleasesID(t *testing.T) {
	q := NewQueue(1)
	q.Start(context.Background(), func(_ context.Context, _ string) error { return assert.AnError })
	defer q.Stop()

	require.True(t, q.Enqueue("job-err"))
	require.Eventually(t, func() bool { return !q.Active("job-err") }, time.Second, 10*time.Millisecond)
}

func TestQueue_BoundsConcurrency(t *testing.T) {
	q := NewQueue(2)

	var current, peak atomic.Int32
	release := make(chan struct{})
	q.Start(context.Background(), func(_ context.Context, _ string) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return nil
	})
	defer q.Stop()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, q.Enqueue(id))
	}
	require.Eventually(t, func() bool {
		_, running := q.Stats()
		return running == 2
	}, time.Second, 10*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		queued, running := q.Stats()
		return queued == 0 && running == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())
}

func TestQueue_StopCancelsRunningExecutor(t *testing.T) {
	q := NewQueue(1)

	started := make(chan struct{})
	stopped := make(chan struct{})
	q.Start(context.Background(), func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})

	require.True(t, q.Enqueue("long"))
	<-started
	q.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("executor did not observe cancellation")
	}
}
