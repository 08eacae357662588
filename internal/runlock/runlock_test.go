package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestMemoryAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.Acquire(ctx, "all")
	if err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v; want true", ok, err)
	}
	if ok, _ := m.Acquire(ctx, "all"); ok {
		t.Fatal("second Acquire() = true, want false")
	}
	if ok, _ := m.Acquire(ctx, "subscription:1"); !ok {
		t.Fatal("Acquire(other key) = false, want true")
	}
	if err := m.Release(ctx, "all"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if ok, _ := m.Acquire(ctx, "all"); !ok {
		t.Fatal("Acquire() after Release = false, want true")
	}
}

func TestMemoryConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Acquire(ctx, "all"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("%d goroutines acquired the lock, want 1", wins)
	}
}

func TestRedisReleaseWithoutAcquire(t *testing.T) {
	l := NewRedis(nil, "", 0)
	if err := l.Release(context.Background(), "all"); err != nil {
		t.Errorf("Release() without Acquire error = %v", err)
	}
	if l.ttl != DefaultLockTTL || l.prefix != "tubevore:lock:" {
		t.Errorf("defaults = %v/%q", l.ttl, l.prefix)
	}
}

func TestScriptErr(t *testing.T) {
	boom := errors.New("connection refused")
	for _, tt := range []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"redis nil", redis.Nil, nil},
		{"wrapped redis nil", fmt.Errorf("eval: %w", redis.Nil), nil},
		{"other", boom, boom},
	} {
		if got := scriptErr(tt.in); !errors.Is(got, tt.want) || (tt.want == nil && got != nil) {
			t.Errorf("%s: scriptErr() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
