package db

import (
	"context"
	"maps"
	"sync"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// MemoryVersionRepository keeps pool versions in process memory. Versions do
// not survive a restart.
type MemoryVersionRepository struct {
	mu       sync.Mutex
	versions map[string]uint64
}

func NewMemoryVersionRepository() *MemoryVersionRepository {
	return &MemoryVersionRepository{versions: make(map[string]uint64)}
}

func (r *MemoryVersionRepository) LoadVersion(_ context.Context, pool string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions[pool], nil
}

func (r *MemoryVersionRepository) SaveVersion(_ context.Context, pool string, version uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.versions[pool]; version <= current {
		return &zerrors.StaleVersionError{Pool: pool, Current: current, Proposed: version}
	}
	r.versions[pool] = version
	return nil
}

func (r *MemoryVersionRepository) ListVersions(_ context.Context) (map[string]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.versions), nil
}
