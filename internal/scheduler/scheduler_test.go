package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu       sync.Mutex
	shops    []string
	listErr  error
	failures map[string]error
	panics   map[string]bool
	done     []string
	calls    atomic.Int64
}

func (q *fakeQueue) ActiveShopIDs(context.Context) ([]string, error) {
	return q.shops, q.listErr
}

func (q *fakeQueue) RecalculateShopQueue(_ context.Context, shopID string) error {
	q.calls.Add(1)
	if q.panics[shopID] {
		panic("boom")
	}
	if err := q.failures[shopID]; err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = append(q.done, shopID)
	return nil
}

func TestRunOnceIsolatesShopFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	queue := &fakeQueue{
		shops:    []string{"shop-1", "shop-2", "shop-3"},
		failures: map[string]error{"shop-1": errors.New("storage unavailable")},
		panics:   map[string]bool{"shop-3": true},
	}
	s := New(Config{Concurrency: 2}, queue, logger)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Shops: 3, Succeeded: 1, Failed: 2}, report)
	assert.Equal(t, []string{"shop-2"}, queue.done)
	assert.Len(t, hook.AllEntries(), 2)
}

func TestRunOnceListFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	queue := &fakeQueue{listErr: errors.New("db down")}

	_, err := New(Config{}, queue, logger).RunOnce(context.Background())
	assert.ErrorContains(t, err, "db down")
	assert.Zero(t, queue.calls.Load())
}

func TestRunOnceNoActiveShops(t *testing.T) {
	logger, _ := test.NewNullLogger()

	report, err := New(Config{}, &fakeQueue{}, logger).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestStartStopAreIdempotent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	queue := &fakeQueue{shops: []string{"shop-1"}}
	s := New(Config{Interval: time.Second}, queue, logger)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.Running())

	assert.Eventually(t, func() bool { return queue.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Running())

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(ctx))
}

func TestDefaults(t *testing.T) {
	s := New(Config{}, &fakeQueue{}, nil)
	assert.Equal(t, DefaultInterval, s.cfg.Interval)
	assert.Equal(t, DefaultConcurrency, s.cfg.Concurrency)
	assert.Equal(t, DefaultTimeout, s.cfg.Timeout)
}
