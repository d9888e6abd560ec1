package token

import (
	"context"
	"sync"
	"time"
)

// Blacklist tracks revoked token identifiers. Entries self-expire no later
// than the longest possible token lifetime after insertion, so a revoked
// token can never outlive its entry and memory stays bounded.
type Blacklist interface {
	// Revoke records the identifier for ttl. A non-positive ttl, or one past
	// the registry ceiling, is clamped to the ceiling.
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	// Consume records the identifier like Revoke and reports whether this
	// call inserted it. A false return means the identifier was already
	// revoked. The check and the insert are one atomic step, so of any number
	// of concurrent Consume calls for one identifier exactly one gets true.
	Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
	// IsRevoked reports whether the identifier is currently revoked. It must
	// stay cheap and free of external I/O on the in-memory implementation:
	// the guard calls it on every request.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

const defaultSweepInterval = time.Minute

// MemoryBlacklist is the process-local registry. A restart clears all
// revocations; multi-instance deployments use RedisBlacklist instead.
type MemoryBlacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time

	ceiling time.Duration
	sweep   time.Duration
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

var _ Blacklist = (*MemoryBlacklist)(nil)

// MemoryOption configures MemoryBlacklist behavior.
type MemoryOption func(*MemoryBlacklist)

// WithMemoryClock overrides the time source (useful for tests).
func WithMemoryClock(fn func() time.Time) MemoryOption {
	return func(b *MemoryBlacklist) {
		if fn != nil {
			b.now = fn
		}
	}
}

// WithSweepInterval overrides how often expired entries are swept.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(b *MemoryBlacklist) {
		if d > 0 {
			b.sweep = d
		}
	}
}

// NewMemoryBlacklist constructs the registry. The ceiling must cover the
// longest token lifetime in use (the refresh TTL).
func NewMemoryBlacklist(ceiling time.Duration, opts ...MemoryOption) *MemoryBlacklist {
	if ceiling <= 0 {
		ceiling = defaultRefreshTTL
	}
	b := &MemoryBlacklist{
		entries: make(map[string]time.Time),
		ceiling: ceiling,
		sweep:   defaultSweepInterval,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.janitor()
	return b
}

// Revoke records the identifier until its token would have expired anyway.
func (b *MemoryBlacklist) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return nil
	}
	if ttl <= 0 || ttl > b.ceiling {
		ttl = b.ceiling
	}
	expiry := b.now().Add(ttl)
	b.mu.Lock()
	if existing, ok := b.entries[tokenID]; !ok || expiry.After(existing) {
		b.entries[tokenID] = expiry
	}
	b.mu.Unlock()
	return nil
}

// Consume inserts the identifier unless a live entry already exists. An
// expired entry does not block consumption.
func (b *MemoryBlacklist) Consume(_ context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	if ttl <= 0 || ttl > b.ceiling {
		ttl = b.ceiling
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if expiry, ok := b.entries[tokenID]; ok && now.Before(expiry) {
		return false, nil
	}
	b.entries[tokenID] = now.Add(ttl)
	return true, nil
}

// IsRevoked reports membership. Entries past their expiry no longer count
// even before the janitor removes them.
func (b *MemoryBlacklist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	b.mu.RLock()
	expiry, ok := b.entries[tokenID]
	b.mu.RUnlock()
	return ok && b.now().Before(expiry), nil
}

// Len reports the number of stored entries, expired or not. Exposed for the
// blacklist size gauge.
func (b *MemoryBlacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Close stops the janitor goroutine.
func (b *MemoryBlacklist) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *MemoryBlacklist) janitor() {
	ticker := time.NewTicker(b.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.removeExpired()
		}
	}
}

func (b *MemoryBlacklist) removeExpired() {
	now := b.now()
	b.mu.Lock()
	for id, expiry := range b.entries {
		if !now.Before(expiry) {
			delete(b.entries, id)
		}
	}
	b.mu.Unlock()
}
