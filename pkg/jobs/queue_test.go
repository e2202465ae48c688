package jobs

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 5, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Type: "index"}))
	waitQueue(t, q)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("permanent")
	}, QueueConfig{Workers: 2, MaxRetries: 2, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	waitQueue(t, q)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueKeepsPartitionOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string][]int{}
	)
	var failedOnce int32
	q := NewQueue("ordered", func(ctx context.Context, job Job) error {
		n := job.Payload.(int)
		if n == 3 && atomic.CompareAndSwapInt32(&failedOnce, 0, 1) {
			return errors.New("retry me")
		}
		mu.Lock()
		seen[job.Partition] = append(seen[job.Partition], n)
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 4, MaxRetries: 1, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 20; i++ {
		for _, partition := range []string{"u1", "u2", "g3"} {
			require.NoError(t, q.Enqueue(Job{ID: partition + strconv.Itoa(i), Partition: partition, Payload: i}))
		}
	}
	waitQueue(t, q)

	expected := make([]int, 20)
	for i := range expected {
		expected[i] = i
	}
	for _, partition := range []string{"u1", "u2", "g3"} {
		assert.Equal(t, expected, seen[partition], partition)
	}
}

func TestEnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}
