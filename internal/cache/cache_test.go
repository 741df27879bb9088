package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLRUCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache[string](2, time.Minute)

	_ = c.Set(ctx, "a", "1")
	_ = c.Set(ctx, "b", "2")

	if v, ok, _ := c.Get(ctx, "a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	// "b" is now least recently used and gets evicted
	_ = c.Set(ctx, "c", "3")
	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Error("expected b to be evicted")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}

	_ = c.Delete(ctx, "a")
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("expected a to be deleted")
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](10, time.Minute)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "k", 42)
	_ = c.Set(ctx, "j", 7)
	now = now.Add(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expected expired entry to be a miss")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestReadThrough_LoadsOnceAndCaches(t *testing.T) {
	ctx := context.Background()
	rt := NewReadThrough[[]string]("test", NewLRUCache[[]string](10, time.Minute), nil)

	var loads int32
	load := func(context.Context) ([]string, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(10 * time.Millisecond)
		return []string{"x"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rt.Get(ctx, "key", load); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := rt.Get(ctx, "key", load); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}

	rt.Invalidate(ctx, "key")
	if _, err := rt.Get(ctx, "key", load); err != nil {
		t.Fatalf("Get() after invalidate error = %v", err)
	}
	if n := atomic.LoadInt32(&loads); n != 2 {
		t.Errorf("loader called %d times after invalidate, want 2", n)
	}
}

type failingCache[T any] struct{}

func (failingCache[T]) Get(context.Context, string) (T, bool, error) {
	var zero T
	return zero, false, errors.New("down")
}
func (failingCache[T]) Set(context.Context, string, T) error { return errors.New("down") }
func (failingCache[T]) Delete(context.Context, string) error { return errors.New("down") }

func TestReadThrough_CacheFailureFallsBack(t *testing.T) {
	rt := NewReadThrough[int]("test", failingCache[int]{}, nil)

	v, err := rt.Get(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("Get() = %d, %v; want 7, nil", v, err)
	}
}

func TestReadThrough_LoaderError(t *testing.T) {
	rt := NewReadThrough[int]("test", NewLRUCache[int](1, time.Minute), nil)
	boom := errors.New("boom")

	if _, err := rt.Get(context.Background(), "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("Get() error = %v, want boom", err)
	}
}

func TestReadThrough_NilPassesThrough(t *testing.T) {
	var rt *ReadThrough[int]
	v, err := rt.Get(context.Background(), "k", func(context.Context) (int, error) { return 3, nil })
	if err != nil || v != 3 {
		t.Fatalf("nil ReadThrough Get() = %d, %v", v, err)
	}
	rt.Invalidate(context.Background(), "k")
}

func TestManager_Cleanup(t *testing.T) {
	c := NewLRUCache[int](10, time.Millisecond)
	_ = c.Set(context.Background(), "k", 1)

	m := NewManager()
	m.Register(c)
	m.StartCleanup(5 * time.Millisecond)
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for c.Size() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Size() != 0 {
		t.Error("expected manager to clean expired entries")
	}
}
