package memo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	calls atomic.Int32
}

func (c *counter) compute(_ context.Context, raw []byte) (string, error) {
	c.calls.Add(1)
	return "result:" + string(raw), nil
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Fingerprint(nil))
	assert.Equal(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abc")))
	assert.NotEqual(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abd")))
}

func TestCache_HitSkipsCompute(t *testing.T) {
	c := New[string](10, nil)
	var n counter

	v1, hit, err := c.GetOrCompute(context.Background(), []byte("img"), n.compute)
	require.NoError(t, err)
	assert.False(t, hit)

	v2, hit, err := c.GetOrCompute(context.Background(), []byte("img"), n.compute)
	require.NoError(t, err)
	assert.True(t, hit)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), n.calls.Load())
}

func TestCache_DistinctInputsAreIndependent(t *testing.T) {
	c := New[string](10, nil)
	var n counter

	a, _, err := c.GetOrCompute(context.Background(), []byte("a"), n.compute)
	require.NoError(t, err)
	b, _, err := c.GetOrCompute(context.Background(), []byte("b"), n.compute)
	require.NoError(t, err)
	again, hit, err := c.GetOrCompute(context.Background(), []byte("a"), n.compute)
	require.NoError(t, err)

	assert.Equal(t, "result:a", a)
	assert.Equal(t, "result:b", b)
	assert.Equal(t, "result:a", again)
	assert.True(t, hit)
	assert.Equal(t, int32(2), n.calls.Load())
}

func TestCache_BoundEvictsOldestInputs(t *testing.T) {
	const n, k = 4, 2
	c := New[string](n, nil)
	var cnt counter

	for i := 0; i < n+k; i++ {
		_, _, err := c.GetOrCompute(context.Background(), []byte(fmt.Sprint(i)), cnt.compute)
		require.NoError(t, err)
	}
	assert.Equal(t, n, c.Len())
	for i := 0; i < k; i++ {
		_, ok := c.peek([]byte(fmt.Sprint(i)))
		assert.False(t, ok)
	}
	for i := k; i < n+k; i++ {
		_, ok := c.peek([]byte(fmt.Sprint(i)))
		assert.True(t, ok)
	}
}

func TestCache_FailuresAreNotCached(t *testing.T) {
	c := New[string](10, nil)
	var calls atomic.Int32
	boom := errors.New("boom")
	fn := func(context.Context, []byte) (string, error) {
		if calls.Add(1) == 1 {
			return "", boom
		}
		return "ok", nil
	}

	_, _, err := c.GetOrCompute(context.Background(), []byte("x"), fn)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, hit, err := c.GetOrCompute(context.Background(), []byte("x"), fn)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", v)
}

func TestCache_ConcurrentMissesComputeOnce(t *testing.T) {
	c := New[string](10, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(_ context.Context, raw []byte) (string, error) {
		calls.Add(1)
		<-release
		return string(raw), nil
	}

	const workers = 20
	var wg sync.WaitGroup
	results := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := c.GetOrCompute(context.Background(), []byte("same"), fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "same", v)
	}
}

func TestCache_CancelledWaiterLeavesComputationRunning(t *testing.T) {
	c := New[string](10, nil)
	release := make(chan struct{})
	done := make(chan struct{})
	fn := func(ctx context.Context, _ []byte) (string, error) {
		defer close(done)
		<-release
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "late", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := c.GetOrCompute(ctx, []byte("slow"), fn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	require.Eventually(t, func() bool {
		_, ok := c.peek([]byte("slow"))
		return ok
	}, time.Second, 5*time.Millisecond)

	v, hit, err := c.GetOrCompute(context.Background(), []byte("slow"), fn)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "late", v)
}

type mapStore struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	setErr error
	sets   int
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string]string)}
}

func (s *mapStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func TestCache_SharedStoreHitIsPromoted(t *testing.T) {
	shared := newMapStore()
	shared.data[Fingerprint([]byte("img"))] = "from-redis"
	c := New[string](10, shared)
	var n counter

	v, hit, err := c.GetOrCompute(context.Background(), []byte("img"), n.compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "from-redis", v)
	assert.Equal(t, int32(0), n.calls.Load())

	local, ok := c.peek([]byte("img"))
	assert.True(t, ok)
	assert.Equal(t, "from-redis", local)
}

func TestCache_SharedStoreWrittenOnMiss(t *testing.T) {
	shared := newMapStore()
	c := New[string](10, shared)
	var n counter

	_, _, err := c.GetOrCompute(context.Background(), []byte("img"), n.compute)
	require.NoError(t, err)
	assert.Equal(t, "result:img", shared.data[Fingerprint([]byte("img"))])
}

func TestCache_SharedStoreErrorsDegradeToCompute(t *testing.T) {
	shared := newMapStore()
	shared.getErr = errors.New("connection refused")
	shared.setErr = errors.New("connection refused")
	c := New[string](10, shared)
	var n counter

	v, hit, err := c.GetOrCompute(context.Background(), []byte("img"), n.compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "result:img", v)
	assert.Equal(t, 1, shared.sets)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Purge(t *testing.T) {
	c := New[string](10, nil)
	var n counter
	_, _, _ = c.GetOrCompute(context.Background(), []byte("img"), n.compute)
	_, _, _ = c.GetOrCompute(context.Background(), []byte("other"), n.compute)
	assert.Equal(t, 10, c.Capacity())

	assert.Equal(t, 2, c.Purge())
	assert.Equal(t, 0, c.Len())

	_, hit, err := c.GetOrCompute(context.Background(), []byte("img"), n.compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(3), n.calls.Load())
}
