package relay

import (
	"context"
	"sync"
	"time"
)

// CredentialStore keeps the streaming credentials of every tab and post.
// Implementations must be safe for concurrent use. A Put for an existing key
// replaces the previous entry; expired entries read as absent.
type CredentialStore interface {
	Put(ctx context.Context, key Key, creds StreamCredentials) error
	Get(ctx context.Context, key Key) (StreamCredentials, bool, error)
	Delete(ctx context.Context, key Key) error

	// Len returns the number of live entries. Used for metrics.
	Len(ctx context.Context) int

	// Sweep removes expired entries and returns how many were removed.
	Sweep(ctx context.Context) int

	Close() error
}

// MemoryStore is the in-process CredentialStore. Entries do not survive a
// restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]entry
	expiry  ExpiryConfig
	now     func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore returns an empty store applying expiry to new entries.
func NewMemoryStore(expiry ExpiryConfig, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[Key]entry),
		expiry:  expiry,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put implements CredentialStore.Put.
func (s *MemoryStore) Put(_ context.Context, key Key, creds StreamCredentials) error {
	if !key.valid() {
		return ErrInvalidKey
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{
		Creds:     creds,
		StoredAt:  now,
		ExpiresAt: s.expiry.ExpiresAt(creds, now),
	}
	return nil
}

// Get implements CredentialStore.Get.
func (s *MemoryStore) Get(_ context.Context, key Key) (StreamCredentials, bool, error) {
	if !key.valid() {
		return StreamCredentials{}, false, ErrInvalidKey
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return StreamCredentials{}, false, nil
	}
	return e.Creds, true, nil
}

// Delete implements CredentialStore.Delete.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len implements CredentialStore.Len.
func (s *MemoryStore) Len(_ context.Context) int {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Sweep implements CredentialStore.Sweep.
func (s *MemoryStore) Sweep(_ context.Context) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Close implements CredentialStore.Close.
func (s *MemoryStore) Close() error {
	return nil
}

// RunSweeper calls store.Sweep every interval until ctx is done. onSweep, if
// not nil, receives the number of entries removed by each pass.
func RunSweeper(ctx context.Context, store CredentialStore, interval time.Duration, onSweep func(removed int)) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n := store.Sweep(ctx)
			if onSweep != nil {
				onSweep(n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
