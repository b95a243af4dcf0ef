package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForState(t *testing.T, q *Queue, id string, state State) Status {
	t.Helper()
	var status Status
	require.Eventually(t, func() bool {
		var ok bool
		status, ok = q.Status(id)
		return ok && status.State == state
	}, 2*time.Second, 5*time.Millisecond)
	return status
}

func TestQueueRecordsResult(t *testing.T) {
	q := NewQueue("test", func(_ context.Context, job Job) (interface{}, error) {
		return job.Payload.(string) + "-done", nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "generate", Payload: "grid"}))

	status := waitForState(t, q, "job-1", StateSucceeded)
	assert.Equal(t, "grid-done", status.Result)
	assert.Equal(t, 1, status.Attempt)
	assert.NotNil(t, status.FinishedAt)
}

func TestQueueRetriesThenFails(t *testing.T) {
	var calls int32
	q := NewQueue("test", func(context.Context, Job) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("ledger conflict")
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-2"}))

	status := waitForState(t, q, "job-2", StateFailed)
	assert.Equal(t, "ledger conflict", status.Error)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueDoesNotRetryPermanentErrors(t *testing.T) {
	var calls int32
	q := NewQueue("test", func(context.Context, Job) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, Permanent(errors.New("no offerings"))
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-3"}))

	waitForState(t, q, "job-3", StateFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("test", func(context.Context, Job) (interface{}, error) { return nil, nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "early"}))
	_, ok := q.Status("early")
	assert.False(t, ok)
}
