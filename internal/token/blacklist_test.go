package token

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryBlacklistRevokeAndExpire(t *testing.T) {
	current := time.Now()
	b := NewMemoryBlacklist(time.Hour, WithMemoryClock(func() time.Time { return current }))
	defer b.Close()
	ctx := context.Background()

	revoked, err := b.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("fresh registry must be empty: %v %v", revoked, err)
	}
	if err := b.Revoke(ctx, "jti-1", 10*time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked, _ := b.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatalf("entry must be present after revoke")
	}

	// Past the entry TTL the token no longer counts, even before the janitor
	// sweeps it.
	current = current.Add(10*time.Minute + time.Second)
	if revoked, _ := b.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatalf("entry must expire with its token")
	}

	b.removeExpired()
	if b.Len() != 0 {
		t.Fatalf("sweep must drop expired entries, %d left", b.Len())
	}
}

func TestMemoryBlacklistClampsTTLToCeiling(t *testing.T) {
	current := time.Now()
	b := NewMemoryBlacklist(time.Hour, WithMemoryClock(func() time.Time { return current }))
	defer b.Close()
	ctx := context.Background()

	if err := b.Revoke(ctx, "jti-long", 48*time.Hour); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := b.Revoke(ctx, "jti-zero", 0); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	current = current.Add(time.Hour + time.Second)
	for _, id := range []string{"jti-long", "jti-zero"} {
		if revoked, _ := b.IsRevoked(ctx, id); revoked {
			t.Fatalf("%s must not outlive the ceiling", id)
		}
	}
}

func TestMemoryBlacklistKeepsLongerEntryOnDoubleRevoke(t *testing.T) {
	current := time.Now()
	b := NewMemoryBlacklist(time.Hour, WithMemoryClock(func() time.Time { return current }))
	defer b.Close()
	ctx := context.Background()

	if err := b.Revoke(ctx, "jti-1", 30*time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := b.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	current = current.Add(10 * time.Minute)
	if revoked, _ := b.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatalf("a shorter re-revoke must not shrink the entry lifetime")
	}
}

func TestMemoryBlacklistConsume(t *testing.T) {
	current := time.Now()
	b := NewMemoryBlacklist(time.Hour, WithMemoryClock(func() time.Time { return current }))
	defer b.Close()
	ctx := context.Background()

	inserted, err := b.Consume(ctx, "jti-1", 10*time.Minute)
	if err != nil || !inserted {
		t.Fatalf("first Consume = %v, %v; want true", inserted, err)
	}
	if inserted, _ := b.Consume(ctx, "jti-1", 10*time.Minute); inserted {
		t.Fatalf("second Consume must report the entry as already present")
	}
	if revoked, _ := b.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatalf("consumed entry must read as revoked")
	}

	// A Revoke'd identifier cannot be consumed either.
	if err := b.Revoke(ctx, "jti-2", 10*time.Minute); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if inserted, _ := b.Consume(ctx, "jti-2", 10*time.Minute); inserted {
		t.Fatalf("Consume must see entries written by Revoke")
	}

	// An expired entry no longer blocks consumption.
	current = current.Add(10*time.Minute + time.Second)
	if inserted, _ := b.Consume(ctx, "jti-1", 10*time.Minute); !inserted {
		t.Fatalf("expired entry must be consumable again")
	}

	if inserted, _ := b.Consume(ctx, "", time.Minute); inserted {
		t.Fatalf("empty id must never be consumable")
	}
}

func TestMemoryBlacklistConsumeIsExclusive(t *testing.T) {
	b := NewMemoryBlacklist(time.Hour)
	defer b.Close()
	ctx := context.Background()

	const workers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		winners int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			inserted, err := b.Consume(ctx, "jti-contended", time.Minute)
			if err != nil {
				t.Errorf("Consume: %v", err)
				return
			}
			if inserted {
				atomic.AddInt64(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if winners != 1 {
		t.Fatalf("exactly one concurrent Consume must win, got %d", winners)
	}
}

func TestMemoryBlacklistConcurrentAccess(t *testing.T) {
	b := NewMemoryBlacklist(time.Hour, WithSweepInterval(time.Millisecond))
	defer b.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := fmt.Sprintf("jti-%d-%d", worker, j)
				if err := b.Revoke(ctx, id, time.Minute); err != nil {
					t.Errorf("Revoke: %v", err)
					return
				}
				if revoked, err := b.IsRevoked(ctx, id); err != nil || !revoked {
					t.Errorf("IsRevoked(%s) = %v, %v", id, revoked, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestMemoryBlacklistIgnoresEmptyID(t *testing.T) {
	b := NewMemoryBlacklist(time.Hour)
	defer b.Close()
	ctx := context.Background()
	if err := b.Revoke(ctx, "", time.Minute); err != nil {
		t.Fatalf("Revoke empty id: %v", err)
	}
	if revoked, _ := b.IsRevoked(ctx, ""); revoked {
		t.Fatalf("empty id must never read as revoked")
	}
	if b.Len() != 0 {
		t.Fatalf("empty id must not be stored")
	}
}
