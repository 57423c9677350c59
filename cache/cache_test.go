package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFetchesOnceUntilInvalidated(t *testing.T) {
	c := New[int]()
	var fetches atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		return 7, nil
	}

	for i := 0; i < 5; i++ {
		v, err := c.Get(context.Background(), "k", fetch)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	}
	assert.Equal(t, int32(1), fetches.Load())

	c.Invalidate("k")
	_, err := c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestRedundantInvalidationsCollapse(t *testing.T) {
	c := New[string]()
	var fetches atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		fetches.Add(1)
		return "v", nil
	}

	_, err := c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)

	c.Invalidate("k")
	c.Invalidate("k")
	c.Invalidate("k")

	_, err = c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	c := New[int]()
	var fetches atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		return 7, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", fetch)
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
}

func TestInvalidationDuringFetchKeepsEntryStale(t *testing.T) {
	c := New[int]()
	started := make(chan struct{})
	release := make(chan struct{})
	var fetches atomic.Int32

	slow := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		close(started)
		<-release
		return 1, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := c.Get(context.Background(), "k", slow)
		assert.NoError(t, err)
		assert.Equal(t, 1, v)
	}()

	<-started
	// The write raced the in-flight fetch: its result must not be treated
	// as fresh.
	c.Invalidate("k")
	close(release)
	<-done

	fast := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		return 2, nil
	}
	v, err := c.Get(context.Background(), "k", fast)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestFetchErrorIsNotCached(t *testing.T) {
	c := New[int]()
	var fetches atomic.Int32

	failing := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		return 0, errors.New("boom")
	}
	_, err := c.Get(context.Background(), "k", failing)
	require.Error(t, err)

	working := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		return 9, nil
	}
	v, err := c.Get(context.Background(), "k", working)
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestDropDiscardsEntry(t *testing.T) {
	c := New[int]()
	var fetches atomic.Int32
	fetch := func(ctx context.Context) (int, error) {
		fetches.Add(1)
		return 7, nil
	}

	_, err := c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)

	c.Drop("k")

	_, err = c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestRefreshForcesFetch(t *testing.T) {
	c := New[int]()
	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, err := c.Get(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.Refresh(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
