package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/models"
)

func queued(id string) *models.Job {
	return &models.Job{ID: id, Status: models.JobStatusPending}
}

func TestDispatcher_HandlesEachJobOnce(t *testing.T) {
	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup

	d := NewDispatcher(3, 50, func(ctx context.Context, job *models.Job) {
		defer wg.Done()
		mu.Lock()
		counts[job.ID]++
		mu.Unlock()
	}, arbor.NewLogger())
	d.Start()
	defer d.Stop(context.Background())

	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, d.Enqueue(queued(fmt.Sprintf("job-%d", i))))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, counts, 20)
	for id, n := range counts {
		assert.Equal(t, 1, n, id)
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	d := NewDispatcher(1, 2, func(ctx context.Context, job *models.Job) {}, arbor.NewLogger())

	require.NoError(t, d.Enqueue(queued("a")))
	require.NoError(t, d.Enqueue(queued("b")))
	assert.ErrorIs(t, d.Enqueue(queued("c")), ErrQueueFull)
	assert.Equal(t, 2, d.Pending())
}

func TestDispatcher_SurvivesPanics(t *testing.T) {
	var handled atomic.Int32
	d := NewDispatcher(1, 10, func(ctx context.Context, job *models.Job) {
		handled.Add(1)
		if job.ID == "boom" {
			panic("handler failure")
		}
	}, arbor.NewLogger())
	d.Start()
	defer d.Stop(context.Background())

	require.NoError(t, d.Enqueue(queued("boom")))
	require.NoError(t, d.Enqueue(queued("after")))

	assert.Eventually(t, func() bool { return handled.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_StopWaitsForRunningJobs(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	d := NewDispatcher(1, 10, func(ctx context.Context, job *models.Job) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}, arbor.NewLogger())
	d.Start()

	require.NoError(t, d.Enqueue(queued("slow")))
	<-started

	require.NoError(t, d.Stop(context.Background()))
	assert.True(t, finished.Load())
	assert.ErrorIs(t, d.Enqueue(queued("late")), ErrDispatcherStopped)
}

func TestDispatcher_StopDeadlineCancelsJobs(t *testing.T) {
	started := make(chan struct{})
	d := NewDispatcher(1, 10, func(ctx context.Context, job *models.Job) {
		close(started)
		<-ctx.Done()
	}, arbor.NewLogger())
	d.Start()

	require.NoError(t, d.Enqueue(queued("stuck")))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
}
