package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c := New(cfg, nil)
	t.Cleanup(c.Close)
	return c
}

// =============================================================================
// GetOrFetch
// =============================================================================

func TestGetOrFetch_FreshHitSkipsFetch(t *testing.T) {
	c := newTestCache(t, Config{})
	c.Set("user:1", "alice", time.Minute)

	var calls atomic.Int32
	v, err := c.GetOrFetch(context.Background(), "user:1", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "from-fetch", nil
	}, time.Minute)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if v != "alice" {
		t.Errorf("value = %v, want cached value", v)
	}
	if calls.Load() != 0 {
		t.Errorf("fetch ran %d times on a fresh hit, want 0", calls.Load())
	}
}

func TestGetOrFetch_MissRunsFetchAndCaches(t *testing.T) {
	c := newTestCache(t, Config{})

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return 42, nil
	}

	v, err := c.GetOrFetch(context.Background(), "answer", fetch, time.Minute)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if v != 42 {
		t.Errorf("value = %v, want 42", v)
	}

	// Second read is a fresh hit.
	if _, err := c.GetOrFetch(context.Background(), "answer", fetch, time.Minute); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch ran %d times, want 1", calls.Load())
	}
}

func TestGetOrFetch_FetchErrorIsNotCached(t *testing.T) {
	c := newTestCache(t, Config{})

	boom := errors.New("upstream down")
	_, err := c.GetOrFetch(context.Background(), "k", func(ctx context.Context) (any, error) {
		return nil, boom
	}, time.Minute)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped fetch error", err)
	}

	if _, _, ok := c.Get("k"); ok {
		t.Error("failed fetch must not leave an entry behind")
	}
}

func TestGetOrFetch_ConcurrentMissesShareOneFetch(t *testing.T) {
	c := newTestCache(t, Config{})

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const readers = 10
	var wg sync.WaitGroup
	results := make([]any, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(context.Background(), "hot", fetch, time.Minute)
		}(i)
	}

	// Give every reader time to join the in-flight fetch, then let it finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("fetch ran %d times for %d concurrent readers, want 1", calls.Load(), readers)
	}
	for i := 0; i < readers; i++ {
		if errs[i] != nil {
			t.Fatalf("reader %d: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("reader %d got %v, want the shared value", i, results[i])
		}
	}
}

// =============================================================================
// Stale-while-revalidate
// =============================================================================

func TestGetOrFetch_StaleServedThenRevalidated(t *testing.T) {
	c := newTestCache(t, Config{})
	c.Set("profile", "v1", 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond) // entry is now stale

	var calls atomic.Int32
	fetched := make(chan struct{})
	v, err := c.GetOrFetch(context.Background(), "profile", func(ctx context.Context) (any, error) {
		calls.Add(1)
		close(fetched)
		return "v2", nil
	}, time.Minute)
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if v != "v1" {
		t.Errorf("stale read = %v, want the old value served immediately", v)
	}

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatal("background revalidation never ran")
	}

	// Wait for the refreshed value to land.
	deadline := time.Now().Add(time.Second)
	for {
		if got, _, _ := c.Get("profile"); got == "v2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refreshed value never stored")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() != 1 {
		t.Errorf("revalidation ran %d times, want 1", calls.Load())
	}
}

func TestGetOrFetch_FailedRevalidationKeepsStaleValue(t *testing.T) {
	c := newTestCache(t, Config{})
	c.Set("profile", "v1", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	_, err := c.GetOrFetch(context.Background(), "profile", func(ctx context.Context) (any, error) {
		defer close(done)
		return nil, errors.New("still broken")
	}, time.Minute)
	if err != nil {
		t.Fatalf("stale read must not surface the refresh error: %v", err)
	}

	<-done
	time.Sleep(20 * time.Millisecond)

	v, _, ok := c.Get("profile")
	if !ok || v != "v1" {
		t.Errorf("entry = %v, %v; a failed revalidation must keep the stale value", v, ok)
	}
}

// =============================================================================
// Writes and invalidation
// =============================================================================

func TestSet_ReadAfterWrite(t *testing.T) {
	c := newTestCache(t, Config{})
	c.Set("k", "new", time.Minute)

	v, fresh, ok := c.Get("k")
	if !ok || !fresh || v != "new" {
		t.Errorf("Get = %v, fresh=%v, ok=%v; want the just-written value fresh", v, fresh, ok)
	}
}

func TestSet_WinsOverInFlightFetch(t *testing.T) {
	c := newTestCache(t, Config{})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	// A miss whose fetch is still in flight when the write lands.
	go func() {
		defer close(done)
		v, err := c.GetOrFetch(context.Background(), "k", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "fetched-old", nil
		}, time.Minute)
		if err != nil {
			t.Errorf("GetOrFetch: %v", err)
		}
		// The reader that triggered the fetch still gets the fetched value.
		if v != "fetched-old" {
			t.Errorf("fetch caller got %v", v)
		}
	}()

	<-started
	c.Set("k", "written-new", time.Minute)
	close(release)
	<-done

	// The write must survive; the older in-flight fetch result is discarded.
	v, fresh, ok := c.Get("k")
	if !ok || !fresh || v != "written-new" {
		t.Errorf("entry = %v fresh=%v ok=%v, want the written value to win over the stale fetch", v, fresh, ok)
	}
}

func TestInvalidate_NextReadRefetches(t *testing.T) {
	c := newTestCache(t, Config{})
	c.Set("k", "old", time.Minute)
	c.Invalidate("k")

	if _, _, ok := c.Get("k"); ok {
		t.Fatal("invalidated entry still present")
	}

	var calls atomic.Int32
	v, err := c.GetOrFetch(context.Background(), "k", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "fetched", nil
	}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if v != "fetched" || calls.Load() != 1 {
		t.Errorf("read after invalidate = %v (%d fetches), want a refetch", v, calls.Load())
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := newTestCache(t, Config{})
	c.Set("team:1", "a", time.Minute)
	c.Set("team:2", "b", time.Minute)
	c.Set("user:1", "c", time.Minute)

	c.InvalidatePrefix("team:")

	if _, _, ok := c.Get("team:1"); ok {
		t.Error("team:1 should be gone")
	}
	if _, _, ok := c.Get("team:2"); ok {
		t.Error("team:2 should be gone")
	}
	if _, _, ok := c.Get("user:1"); !ok {
		t.Error("user:1 should survive a team: prefix invalidation")
	}
}

// =============================================================================
// Sweep
// =============================================================================

func TestSweep_EvictsBeyondCapacity(t *testing.T) {
	c := newTestCache(t, Config{MaxEntries: 3, SweepInterval: time.Hour})

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
		time.Sleep(2 * time.Millisecond) // distinct write times
	}

	c.Sweep()

	if n := c.Len(); n != 3 {
		t.Fatalf("entries after sweep = %d, want 3", n)
	}
	// Oldest-written go first.
	for _, gone := range []string{"k0", "k1"} {
		if _, _, ok := c.Get(gone); ok {
			t.Errorf("%s should have been evicted", gone)
		}
	}
	for _, kept := range []string{"k2", "k3", "k4"} {
		if _, _, ok := c.Get(kept); !ok {
			t.Errorf("%s should have survived", kept)
		}
	}
}

func TestSweep_EvictsByAge(t *testing.T) {
	c := newTestCache(t, Config{MaxAge: 20 * time.Millisecond, SweepInterval: time.Hour})
	c.Set("old", 1, time.Minute)
	time.Sleep(40 * time.Millisecond)
	c.Set("young", 2, time.Minute)

	c.Sweep()

	if _, _, ok := c.Get("old"); ok {
		t.Error("entry past MaxAge should be swept even with TTL remaining")
	}
	if _, _, ok := c.Get("young"); !ok {
		t.Error("young entry should survive the age sweep")
	}
}
