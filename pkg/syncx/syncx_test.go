package syncx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventNotifyAllWakesAllWaiters(t *testing.T) {
	e := NewEvent()
	const n = 5
	var woken atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, e.Wait(context.Background()))
			woken.Add(1)
		}()
	}
	// Give the waiters a chance to park before notifying.
	time.Sleep(20 * time.Millisecond)
	e.NotifyAll()
	wg.Wait()
	require.Equal(t, int32(n), woken.Load())
}

func TestEventWaitCancel(t *testing.T) {
	e := NewEvent()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMutexExcludes(t *testing.T) {
	m := NewMutex()
	g, err := m.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	g.Unlock()
	g.Unlock() // idempotent

	g2, err := m.Lock(context.Background())
	require.NoError(t, err)
	g2.Unlock()
}
