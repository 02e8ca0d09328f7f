package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// MemoryTargetStore keeps shards in process memory. Targets can be taken
// offline to simulate failures.
type MemoryTargetStore struct {
	mu      sync.RWMutex
	shards  map[string][]byte
	offline map[domain.TargetID]bool
}

func NewMemoryTargetStore() *MemoryTargetStore {
	return &MemoryTargetStore{
		shards:  make(map[string][]byte),
		offline: make(map[domain.TargetID]bool),
	}
}

func (s *MemoryTargetStore) Put(ctx context.Context, target domain.TargetID, key string, r io.Reader) error {
	if err := s.reachable(target); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards[TargetKey(target, key)] = data
	return nil
}

func (s *MemoryTargetStore) Get(ctx context.Context, target domain.TargetID, key string) (io.ReadCloser, error) {
	if err := s.reachable(target); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.shards[TargetKey(target, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", zerrors.ErrShardNotFound, TargetKey(target, key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryTargetStore) Delete(ctx context.Context, target domain.TargetID, key string) error {
	if err := s.reachable(target); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shards, TargetKey(target, key))
	return nil
}

func (s *MemoryTargetStore) StorageType() string {
	return string(MemoryType)
}

// SetOffline makes every operation against target fail until it is brought
// back online.
func (s *MemoryTargetStore) SetOffline(target domain.TargetID, offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offline {
		s.offline[target] = true
		return
	}
	delete(s.offline, target)
}

// Has reports whether target holds a shard under key.
func (s *MemoryTargetStore) Has(target domain.TargetID, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.shards[TargetKey(target, key)]
	return ok
}

// Len returns the number of stored shards.
func (s *MemoryTargetStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shards)
}

func (s *MemoryTargetStore) reachable(target domain.TargetID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline[target] {
		return fmt.Errorf("target %d is offline", target)
	}
	return nil
}
