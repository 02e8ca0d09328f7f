// Package service stores objects on the targets the placement map picks for
// them. Objects are split across the layout's redundancy groups; each group
// is replicated or erasure coded and its shards are written to their targets
// concurrently.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/placement"
	"github.com/zzenonn/zplace/internal/registry"
	"github.com/zzenonn/zplace/internal/repository/objectstore"
)

// MapSource hands out pinned placement maps.
type MapSource interface {
	Acquire(pool string) (*registry.Handle, error)
}

// WorkerPool runs shard I/O. Release does not wait for submitted functions.
type WorkerPool interface {
	Submit(func()) error
	Release()
}

// ShardMetrics counts shard operations per target.
type ShardMetrics interface {
	IncShardOp(op string, target uint32, err error)
}

type nopShardMetrics struct{}

func (nopShardMetrics) IncShardOp(string, uint32, error) {}

// ObjectService places, writes, reads and rebuilds objects.
type ObjectService struct {
	maps    MapSource
	store   objectstore.TargetStore
	workers WorkerPool
	metrics ShardMetrics
}

// Option configures an ObjectService.
type Option func(*ObjectService)

// WithWorkerPool replaces the default ants pool.
func WithWorkerPool(p WorkerPool) Option {
	return func(s *ObjectService) {
		s.workers = p
	}
}

func WithMetrics(m ShardMetrics) Option {
	return func(s *ObjectService) {
		s.metrics = m
	}
}

// NewObjectService creates a service doing at most workers shard operations
// at a time.
func NewObjectService(maps MapSource, store objectstore.TargetStore, workers int, opts ...Option) (*ObjectService, error) {
	s := &ObjectService{
		maps:    maps,
		store:   store,
		metrics: nopShardMetrics{},
	}
	for _, o := range opts {
		o(s)
	}

	if s.workers == nil {
		p, err := ants.NewPool(max(1, workers))
		if err != nil {
			return nil, fmt.Errorf("could not create shard worker pool: %w", err)
		}
		s.workers = p
	}
	return s, nil
}

// Close releases the worker pool.
func (s *ObjectService) Close() {
	s.workers.Release()
}

// ShardKey is the key a shard is stored under on its target.
func ShardKey(pool string, oid domain.ObjectID, group, shard int) string {
	return fmt.Sprintf("%s/%s/%d.%d", pool, oid, group, shard)
}

// PutResult reports where an object was written.
type PutResult struct {
	Layout  *domain.ObjectLayout
	Written int
	Failed  []domain.ShardAssignment
}

// Put writes the object to the targets of its current layout. A zero red uses
// the pool's default class. The write succeeds when every group stored enough
// shards to be read back; failed shards are reported for a later rebuild.
func (s *ObjectService) Put(ctx context.Context, pool string, oid domain.ObjectID, red domain.Redundancy, r io.Reader) (*PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	h, err := s.maps.Acquire(pool)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	layout, err := h.ComputeLayout(oid, red)
	if err != nil && !zerrors.IsDegraded(err) {
		return nil, err
	}
	red = layout.Redundancy

	type write struct {
		a    domain.ShardAssignment
		blob []byte
	}
	var writes []write
	for g, chunk := range splitChunks(data, layout.GroupCount) {
		shards, err := EncodeGroup(red, chunk)
		if err != nil {
			return nil, fmt.Errorf("could not encode group %d: %w", g, err)
		}
		for _, a := range layout.Group(g) {
			writes = append(writes, write{a: a, blob: marshalShard(len(chunk), shards[a.Shard])})
		}
	}

	errs := make([]error, len(writes))
	err = s.run(len(writes), func(i int) {
		w := writes[i]
		errs[i] = s.store.Put(ctx, w.a.Target, ShardKey(pool, oid, w.a.Group, w.a.Shard), bytes.NewReader(w.blob))
		s.metrics.IncShardOp("put", uint32(w.a.Target), errs[i])
	})
	if err != nil {
		return nil, err
	}

	res := &PutResult{Layout: layout}
	written := make([]int, layout.GroupCount)
	for i, w := range writes {
		if errs[i] != nil {
			log.WithFields(log.Fields{
				"pool":   pool,
				"object": oid,
				"target": w.a.Target,
				"shard":  fmt.Sprintf("%d.%d", w.a.Group, w.a.Shard),
			}).Warnf("Failed to write shard: %v", errs[i])
			res.Failed = append(res.Failed, w.a)
			continue
		}
		res.Written++
		written[w.a.Group]++
	}

	for g, n := range written {
		if n < MinShards(red) {
			return res, fmt.Errorf("%w: group %d stored %d shards, need %d", zerrors.ErrInsufficientShards, g, n, MinShards(red))
		}
	}

	log.WithFields(log.Fields{
		"pool":    pool,
		"object":  oid,
		"version": layout.Version,
		"shards":  res.Written,
	}).Debug("Stored object")
	return res, nil
}

// Get reads the object back from its current layout. Unreadable shards are
// tolerated as long as every group can still be decoded.
func (s *ObjectService) Get(ctx context.Context, pool string, oid domain.ObjectID, red domain.Redundancy) (io.ReadCloser, error) {
	h, err := s.maps.Acquire(pool)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	layout, err := h.ComputeLayout(oid, red)
	if err != nil && !zerrors.IsDegraded(err) {
		return nil, err
	}
	red = layout.Redundancy

	groups, err := s.readGroups(ctx, pool, oid, layout)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for g, gr := range groups {
		if gr.size < 0 {
			return nil, fmt.Errorf("%w: no shard of group %d readable", zerrors.ErrInsufficientShards, g)
		}
		chunk, err := DecodeGroup(red, gr.shards, gr.size)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", g, err)
		}
		buf.Write(chunk)
	}
	return io.NopCloser(&buf), nil
}

// Delete removes every shard of the object's current layout. Shards that are
// already gone are ignored.
func (s *ObjectService) Delete(ctx context.Context, pool string, oid domain.ObjectID, red domain.Redundancy) error {
	h, err := s.maps.Acquire(pool)
	if err != nil {
		return err
	}
	defer h.Release()

	layout, err := h.ComputeLayout(oid, red)
	if err != nil && !zerrors.IsDegraded(err) {
		return err
	}

	errs := make([]error, len(layout.Shards))
	err = s.run(len(layout.Shards), func(i int) {
		a := layout.Shards[i]
		err := s.store.Delete(ctx, a.Target, ShardKey(pool, oid, a.Group, a.Shard))
		s.metrics.IncShardOp("delete", uint32(a.Target), err)
		if err != nil && !errors.Is(err, zerrors.ErrShardNotFound) {
			errs[i] = fmt.Errorf("shard %d.%d on target %d: %w", a.Group, a.Shard, a.Target, err)
		}
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// RebuildResult reports the outcome of Rebuild.
type RebuildResult struct {
	Version uint64
	Moved   []placement.RebuildTask
	Failed  []placement.RebuildTask
}

// Rebuild reconstructs the shards that moved since the given version and
// writes them to their new targets. Shards leaving a draining target are read
// from it when the rest of the group is not enough.
func (s *ObjectService) Rebuild(ctx context.Context, pool string, oid domain.ObjectID, red domain.Redundancy, since uint64) (*RebuildResult, error) {
	h, err := s.maps.Acquire(pool)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	res := &RebuildResult{Version: h.Version()}

	tasks, err := h.FindRebuild(oid, red, since)
	if err != nil && !zerrors.IsDegraded(err) {
		return nil, err
	}
	if len(tasks) == 0 {
		return res, nil
	}

	layout, err := h.ComputeLayout(oid, red)
	if err != nil && !zerrors.IsDegraded(err) {
		return nil, err
	}
	red = layout.Redundancy

	groups, err := s.readGroups(ctx, pool, oid, layout)
	if err != nil {
		return nil, err
	}

	for _, t := range tasks {
		gr := &groups[t.Group]
		if t.From == domain.NoTarget || gr.shards[t.Shard] != nil {
			continue
		}
		a := domain.ShardAssignment{Group: t.Group, Shard: t.Shard, Target: t.From}
		if size, payload, err := s.readShard(ctx, pool, oid, a); err == nil {
			gr.shards[t.Shard] = payload
			gr.size = size
		}
	}

	type write struct {
		t    placement.RebuildTask
		blob []byte
	}
	var writes []write
	for g := range groups {
		gr := &groups[g]
		var pending []placement.RebuildTask
		for _, t := range tasks {
			if t.Group == g && t.To != domain.NoTarget {
				pending = append(pending, t)
			}
		}
		if len(pending) == 0 {
			continue
		}
		if gr.size < 0 || present(gr.shards) < MinShards(red) {
			res.Failed = append(res.Failed, pending...)
			continue
		}
		if err := ReconstructGroup(red, gr.shards); err != nil {
			log.WithFields(log.Fields{"pool": pool, "object": oid, "group": g}).Warnf("Cannot reconstruct group: %v", err)
			res.Failed = append(res.Failed, pending...)
			continue
		}
		for _, t := range pending {
			writes = append(writes, write{t: t, blob: marshalShard(gr.size, gr.shards[t.Shard])})
		}
	}

	errs := make([]error, len(writes))
	err = s.run(len(writes), func(i int) {
		w := writes[i]
		errs[i] = s.store.Put(ctx, w.t.To, ShardKey(pool, oid, w.t.Group, w.t.Shard), bytes.NewReader(w.blob))
		s.metrics.IncShardOp("rebuild", uint32(w.t.To), errs[i])
	})
	if err != nil {
		return nil, err
	}

	for i, w := range writes {
		if errs[i] != nil {
			log.WithFields(log.Fields{
				"pool":   pool,
				"object": oid,
				"target": w.t.To,
			}).Warnf("Failed to rebuild shard: %v", errs[i])
			res.Failed = append(res.Failed, w.t)
			continue
		}
		res.Moved = append(res.Moved, w.t)
	}

	log.WithFields(log.Fields{
		"pool":    pool,
		"object":  oid,
		"version": res.Version,
		"moved":   len(res.Moved),
		"failed":  len(res.Failed),
	}).Info("Rebuilt object")
	return res, nil
}

type groupShards struct {
	shards [][]byte
	// size is the group chunk length, or -1 while no shard was read.
	size int
}

// readGroups reads the shards of every group of layout. Replicated groups
// stop at the first readable replica, preferring targets that are not
// draining; erasure-coded groups read all shards at once.
func (s *ObjectService) readGroups(ctx context.Context, pool string, oid domain.ObjectID, layout *domain.ObjectLayout) ([]groupShards, error) {
	groups := make([]groupShards, layout.GroupCount)
	for g := range groups {
		groups[g] = groupShards{shards: make([][]byte, layout.GroupSize), size: -1}
	}

	type read struct {
		a       domain.ShardAssignment
		size    int
		payload []byte
		err     error
	}

	if !layout.Redundancy.IsErasure() {
		reads := make([]read, layout.GroupCount)
		err := s.run(layout.GroupCount, func(g int) {
			replicas := layout.Group(g)
			slices.SortStableFunc(replicas, func(a, b domain.ShardAssignment) int {
				switch {
				case a.Rebuilding == b.Rebuilding:
					return 0
				case b.Rebuilding:
					return -1
				}
				return 1
			})
			reads[g].err = fmt.Errorf("%w: group %d has no replicas", zerrors.ErrInsufficientShards, g)
			for _, a := range replicas {
				size, payload, err := s.readShard(ctx, pool, oid, a)
				reads[g] = read{a: a, size: size, payload: payload, err: err}
				if err == nil {
					return
				}
			}
		})
		if err != nil {
			return nil, err
		}
		for g, r := range reads {
			if r.err == nil {
				groups[g].shards[r.a.Shard] = r.payload
				groups[g].size = r.size
			}
		}
		return groups, nil
	}

	reads := make([]read, len(layout.Shards))
	err := s.run(len(layout.Shards), func(i int) {
		a := layout.Shards[i]
		size, payload, err := s.readShard(ctx, pool, oid, a)
		reads[i] = read{a: a, size: size, payload: payload, err: err}
	})
	if err != nil {
		return nil, err
	}
	for _, r := range reads {
		if r.err != nil {
			continue
		}
		gr := &groups[r.a.Group]
		gr.shards[r.a.Shard] = r.payload
		gr.size = r.size
	}
	return groups, nil
}

func (s *ObjectService) readShard(ctx context.Context, pool string, oid domain.ObjectID, a domain.ShardAssignment) (int, []byte, error) {
	rc, err := s.store.Get(ctx, a.Target, ShardKey(pool, oid, a.Group, a.Shard))
	if err == nil {
		var raw []byte
		raw, err = io.ReadAll(rc)
		rc.Close()
		if err == nil {
			var (
				size    int
				payload []byte
			)
			size, payload, err = unmarshalShard(raw)
			if err == nil {
				s.metrics.IncShardOp("get", uint32(a.Target), nil)
				return size, payload, nil
			}
		}
	}

	s.metrics.IncShardOp("get", uint32(a.Target), err)
	log.WithFields(log.Fields{
		"pool":   pool,
		"object": oid,
		"target": a.Target,
		"shard":  fmt.Sprintf("%d.%d", a.Group, a.Shard),
	}).Debugf("Shard unreadable: %v", err)
	return 0, nil, err
}

// run calls fn(0..n-1) on the worker pool and waits for all of them.
func (s *ObjectService) run(n int, fn func(i int)) error {
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		if err := s.workers.Submit(func() {
			defer wg.Done()
			fn(i)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("could not schedule shard operation: %w", err)
		}
	}
	wg.Wait()
	return nil
}

// splitChunks cuts data into n contiguous chunks of near-equal size, one per
// redundancy group.
func splitChunks(data []byte, n int) [][]byte {
	size := (len(data) + n - 1) / n
	out := make([][]byte, n)
	for g := range n {
		lo := min(g*size, len(data))
		hi := min(lo+size, len(data))
		out[g] = data[lo:hi]
	}
	return out
}
