package foldersync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireDifferentKeysDoNotBlock(t *testing.T) {
	c := New()
	ctx := context.Background()

	l1, err := c.Acquire(ctx, "acct-1", "folder-a")
	require.NoError(t, err)
	defer l1.Release()

	l2, err := c.Acquire(ctx, "acct-1", "folder-b")
	require.NoError(t, err)
	defer l2.Release()
}

func TestAcquireSameKeyBlocksUntilRelease(t *testing.T) {
	c := New()
	ctx := context.Background()

	lease, err := c.Acquire(ctx, "acct-1", "folder-a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		l2, err := c.Acquire(ctx, "acct-1", "folder-a")
		assert.NoError(t, err)
		close(acquired)
		l2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should not succeed while the first lease is held")
	case <-time.After(50 * time.Millisecond):
	}

	lease.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should succeed promptly after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	c := New()
	lease, err := c.Acquire(context.Background(), "acct-1", "folder-a")
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Acquire(ctx, "acct-1", "folder-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := New()
	lease, err := c.Acquire(context.Background(), "acct-1", "folder-a")
	require.NoError(t, err)

	lease.Release()
	assert.NotPanics(t, func() { lease.Release() })

	// The slot must actually be free after the first release.
	l2, err := c.Acquire(context.Background(), "acct-1", "folder-a")
	require.NoError(t, err)
	l2.Release()
}

func TestWaitersServedFIFO(t *testing.T) {
	c := New()
	ctx := context.Background()

	first, err := c.Acquire(ctx, "acct-1", "folder-a")
	require.NoError(t, err)

	const n = 5
	order := make([]int, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		// Stagger goroutine start so waiters queue in a known order.
		time.Sleep(5 * time.Millisecond)
		go func(i int) {
			defer wg.Done()
			l, err := c.Acquire(ctx, "acct-1", "folder-a")
			assert.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			l.Release()
		}(i)
	}

	first.Release()
	wg.Wait()

	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i], "waiters should be served in arrival order")
	}
}
