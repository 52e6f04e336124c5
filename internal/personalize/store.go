package personalize

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	coreerrors "github.com/hybridcore/core/internal/errors"
	"github.com/hybridcore/core/internal/model"
)

// Backend is the persistence contract personalize depends on; satisfied by
// store.MetadataDB. Kept as a narrow interface so the reranker and
// scheduler are testable with an in-memory double.
type Backend interface {
	Save(ctx context.Context, adapter model.LoRAAdapter) (int, error)
	Load(ctx context.Context, userID, name string) (model.LoRAAdapter, error)
	LoadVersion(ctx context.Context, userID, name string, version int) (model.LoRAAdapter, error)
	List(ctx context.Context, userID string) ([]model.AdapterMeta, error)
	Delete(ctx context.Context, userID, name string) error
	DeleteVersion(ctx context.Context, userID, name string, version int) error
}

// cacheKey identifies an adapter's latest-version cache slot.
type cacheKey struct {
	userID string
	name   string
}

// AdapterStore wraps a Backend with an optional shared, per-process,
// read-mostly in-memory LRU: writers go through a short critical section
// (Save replaces the entry), readers get a snapshot via the LRU's own
// locking.
type AdapterStore struct {
	backend Backend
	cache   *lru.Cache[cacheKey, model.LoRAAdapter]
	mu      sync.Mutex
}

// NewAdapterStore wraps backend with an LRU of the given size. size<=0
// disables the in-memory tier (every Load goes straight to backend).
func NewAdapterStore(backend Backend, size int) *AdapterStore {
	var cache *lru.Cache[cacheKey, model.LoRAAdapter]
	if size > 0 {
		cache, _ = lru.New[cacheKey, model.LoRAAdapter](size)
	}
	return &AdapterStore{backend: backend, cache: cache}
}

// Save persists a new version and replaces the cached latest-version
// entry for (user_id, adapter_name) with it, since it now outranks the old one.
func (s *AdapterStore) Save(ctx context.Context, adapter model.LoRAAdapter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.backend.Save(ctx, adapter)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		saved := adapter
		saved.Version = version
		s.cache.Add(cacheKey{adapter.UserID, adapter.AdapterName}, saved)
	}
	return version, nil
}

// Load returns the highest-version adapter, consulting the in-memory LRU
// first. AdapterNotFound propagates unchanged so callers can fall back to
// the default (empty) adapter path.
func (s *AdapterStore) Load(ctx context.Context, userID, name string) (model.LoRAAdapter, error) {
	if s.cache != nil {
		if a, ok := s.cache.Get(cacheKey{userID, name}); ok {
			return a, nil
		}
	}
	a, err := s.backend.Load(ctx, userID, name)
	if err != nil {
		return model.LoRAAdapter{}, err
	}
	if s.cache != nil {
		s.cache.Add(cacheKey{userID, name}, a)
	}
	return a, nil
}

// LoadVersion bypasses the cache: rollback/AB comparisons want the exact
// version requested, not whatever the latest-version cache holds.
func (s *AdapterStore) LoadVersion(ctx context.Context, userID, name string, version int) (model.LoRAAdapter, error) {
	return s.backend.LoadVersion(ctx, userID, name, version)
}

// List returns metadata only, always from the backend (not cached: it is a
// multi-row projection, not a single adapter).
func (s *AdapterStore) List(ctx context.Context, userID string) ([]model.AdapterMeta, error) {
	return s.backend.List(ctx, userID)
}

// Delete removes every version and evicts the cached entry.
func (s *AdapterStore) Delete(ctx context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(ctx, userID, name); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Remove(cacheKey{userID, name})
	}
	return nil
}

// DeleteVersion removes one version. If it happens to be the cached
// latest version the cache entry is evicted defensively; the next Load
// re-reads from backend.
func (s *AdapterStore) DeleteVersion(ctx context.Context, userID, name string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.DeleteVersion(ctx, userID, name, version); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Remove(cacheKey{userID, name})
	}
	return nil
}

// LoadOrDefault returns the latest adapter for (userID, name), or a fresh
// zero-trained adapter of the given dimensions if none exists yet.
// AdapterStoreUnavailable (anything other than AdapterNotFound) still
// propagates: a DB outage is not the same as "no adapter trained yet", and
// the reranker logs it as adapter_load_failed.
func (s *AdapterStore) LoadOrDefault(ctx context.Context, userID, name string, rank, inputDim, outputDim int) (model.LoRAAdapter, bool, error) {
	a, err := s.Load(ctx, userID, name)
	if err == nil {
		return a, true, nil
	}
	if coreerrors.GetKind(err) == coreerrors.KindAdapterNotFound {
		return NewAdapter(userID, name, rank, inputDim, outputDim), false, nil
	}
	return model.LoRAAdapter{}, false, err
}
