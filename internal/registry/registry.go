// Package registry owns the current placement map of every pool and swaps
// it atomically when a new cluster map version is published.
//
// Lookups never take a lock: Acquire loads the current map pointer and takes
// a reference with a compare-and-swap, retrying if the map was released in
// between. Publishing serializes per pool and never waits for readers; the
// superseded map is freed when its last reference is dropped.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/zhangyunhao116/skipmap"

	"github.com/zzenonn/zplace/internal/clustermap"
	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/faultdomain"
	"github.com/zzenonn/zplace/internal/placement"
)

// State is the lifecycle state of a pool.
type State uint8

const (
	StateNoMap State = iota
	StateActive
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateNoMap:
		return "no_map"
	case StateActive:
		return "active"
	case StateRetired:
		return "retired"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type pool struct {
	name    string
	current atomic.Pointer[placement.Map]
	retired atomic.Bool

	// mu serializes publishes and guards the fields below.
	mu        sync.Mutex
	params    placement.Params
	persisted uint64
	loaded    bool

	// live counts maps of this pool that are not yet released.
	live sync.WaitGroup
}

// Registry is the set of pools known to this process.
type Registry struct {
	pools    *skipmap.FuncMap[string, *pool]
	store    VersionStore
	metrics  Metrics
	defaults placement.Params
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	c := defaultCfg()
	for _, opt := range opts {
		opt(c)
	}
	return &Registry{
		pools: skipmap.NewFunc[string, *pool](func(a, b string) bool {
			return a < b
		}),
		store:    c.store,
		metrics:  c.metrics,
		defaults: c.defaults,
	}
}

// CreatePool registers a pool with the given placement parameters. The pool
// has no map until its first Publish. A retired pool may be created again.
func (r *Registry) CreatePool(name string, params placement.Params) error {
	fresh := &pool{name: name, params: params}
	for {
		existing, loaded := r.pools.LoadOrStore(name, fresh)
		if !loaded {
			log.WithFields(log.Fields{
				"pool":      name,
				"algorithm": params.Algorithm,
			}).Info("Pool created")
			return nil
		}
		if !existing.retired.Load() {
			return fmt.Errorf("%w: %s", zerrors.ErrPoolExists, name)
		}
		r.pools.Delete(name)
	}
}

func (r *Registry) lookup(name string) (*pool, error) {
	p, ok := r.pools.Load(name)
	if !ok || p.retired.Load() {
		return nil, zerrors.PoolNotFoundError(name)
	}
	return p, nil
}

// Publish installs a new cluster map version for the pool, creating the pool
// with the registry defaults if needed. On any error the previous map stays
// current.
func (r *Registry) Publish(ctx context.Context, name string, version uint64, statuses clustermap.Statuses, tree *faultdomain.Tree) error {
	p, _ := r.pools.LoadOrStore(name, &pool{name: name, params: r.defaults})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retired.Load() {
		return zerrors.PoolNotFoundError(name)
	}
	return r.publishLocked(ctx, p, version, statuses, tree, p.params, false)
}

// Restore re-adopts the last persisted version of a pool after a restart.
// It behaves like Publish, except that while the pool has no map a version
// equal to the persisted one is accepted and not saved again.
func (r *Registry) Restore(ctx context.Context, name string, version uint64, statuses clustermap.Statuses, tree *faultdomain.Tree) error {
	p, _ := r.pools.LoadOrStore(name, &pool{name: name, params: r.defaults})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retired.Load() {
		return zerrors.PoolNotFoundError(name)
	}
	return r.publishLocked(ctx, p, version, statuses, tree, p.params, p.current.Load() == nil)
}

// SwitchAlgorithm re-places the pool with new parameters. All layouts may
// change, so it requires a version bump like any other publish; the new
// version also becomes the seed generation.
func (r *Registry) SwitchAlgorithm(ctx context.Context, name string, version uint64, params placement.Params) error {
	p, err := r.lookup(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.current.Load()
	if p.retired.Load() || cur == nil {
		return zerrors.PoolNotFoundError(name)
	}

	params.Generation = version
	snap := cur.Snapshot()
	if err := r.publishLocked(ctx, p, version, snap.Statuses(), snap.Tree(), params, false); err != nil {
		return err
	}
	p.params = params
	log.WithFields(log.Fields{
		"pool":      name,
		"version":   version,
		"algorithm": params.Algorithm,
	}).Warn("Pool placement switched, all layouts may have moved")
	return nil
}

func (r *Registry) publishLocked(ctx context.Context, p *pool, version uint64, statuses clustermap.Statuses, tree *faultdomain.Tree, params placement.Params, restore bool) error {
	logger := log.WithFields(log.Fields{"pool": p.name, "version": version})

	if !p.loaded {
		v, err := r.store.LoadVersion(ctx, p.name)
		if err != nil {
			r.metrics.IncPublish(p.name, ResultError)
			return fmt.Errorf("failed to load persisted version of pool %s: %w", p.name, err)
		}
		p.persisted, p.loaded = v, true
	}

	prev := p.current.Load()
	var prevSnap *clustermap.Snapshot
	if prev != nil {
		prevSnap = prev.Snapshot()
	}
	restore = restore && version != 0 && version == p.persisted
	if floor := max(prevSnap.Version(), p.persisted); version <= floor && !restore {
		r.metrics.IncPublish(p.name, ResultStale)
		logger.Warnf("Rejected stale map version, current is %d", floor)
		return &zerrors.StaleVersionError{Pool: p.name, Current: floor, Proposed: version}
	}

	snap, err := clustermap.Publish(prevSnap, version, statuses, tree)
	if err != nil {
		r.metrics.IncPublish(p.name, resultOf(err))
		logger.WithError(err).Warn("Rejected cluster map")
		return err
	}

	p.live.Add(1)
	m, err := placement.New(snap, params, placement.WithReleaseHook(func(m *placement.Map) {
		r.metrics.AddLiveMaps(p.name, -1)
		log.WithFields(log.Fields{"pool": p.name, "version": m.Version()}).Debug("Placement map released")
		p.live.Done()
	}))
	if err != nil {
		p.live.Done()
		r.metrics.IncPublish(p.name, ResultInvalid)
		return err
	}
	r.metrics.AddLiveMaps(p.name, 1)

	if !restore {
		if err := r.store.SaveVersion(ctx, p.name, version); err != nil {
			m.DecRef()
			r.metrics.IncPublish(p.name, resultOf(err))
			return fmt.Errorf("failed to persist version %d of pool %s: %w", version, p.name, err)
		}
		p.persisted = version
	}

	p.current.Store(m)
	if prev != nil {
		prev.DecRef()
	}

	r.metrics.SetVersion(p.name, version)
	r.metrics.IncPublish(p.name, ResultOK)
	logger.WithFields(log.Fields{
		"targets":   snap.Tree().TargetCount(),
		"available": snap.AvailableCount(),
	}).Info("Published cluster map")
	return nil
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, zerrors.ErrStaleVersion):
		return ResultStale
	case errors.Is(err, zerrors.ErrInvalidTopology):
		return ResultInvalid
	}
	return ResultError
}

// Acquire pins the current map of the pool. The caller must Release the
// handle.
func (r *Registry) Acquire(name string) (*Handle, error) {
	p, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	for {
		m := p.current.Load()
		if m == nil {
			return nil, zerrors.PoolNotFoundError(name)
		}
		if m.AddRef() {
			return newHandle(name, m, r.metrics), nil
		}
		// Released between the load and the increment; a newer map, or
		// none, is current by now.
	}
}

// CurrentVersion returns the version of the pool's current map.
func (r *Registry) CurrentVersion(name string) (uint64, error) {
	p, err := r.lookup(name)
	if err != nil {
		return 0, err
	}
	m := p.current.Load()
	if m == nil {
		return 0, zerrors.PoolNotFoundError(name)
	}
	return m.Version(), nil
}

// ComputeLayout computes the layout of oid on the pool's current map.
func (r *Registry) ComputeLayout(name string, oid domain.ObjectID, red domain.Redundancy) (*domain.ObjectLayout, error) {
	h, err := r.Acquire(name)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return h.ComputeLayout(oid, red)
}

// FindRebuild plans the shard moves of oid on the pool's current map.
func (r *Registry) FindRebuild(name string, oid domain.ObjectID, red domain.Redundancy, since uint64) ([]placement.RebuildTask, error) {
	h, err := r.Acquire(name)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return h.FindRebuild(oid, red, since)
}

// Retire removes the pool from service. New lookups fail immediately; Retire
// then waits until every outstanding handle has been released or ctx ends.
func (r *Registry) Retire(ctx context.Context, name string) error {
	p, err := r.lookup(name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.retired.Load() {
		p.mu.Unlock()
		return zerrors.PoolNotFoundError(name)
	}
	p.retired.Store(true)
	old := p.current.Swap(nil)
	p.mu.Unlock()

	if old != nil {
		old.DecRef()
	}
	log.WithField("pool", name).Info("Pool retired, waiting for outstanding handles")

	done := make(chan struct{})
	go func() {
		p.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool %s retired with handles outstanding: %w", name, ctx.Err())
	}
}

// State returns the lifecycle state of the pool.
func (r *Registry) State(name string) State {
	p, ok := r.pools.Load(name)
	switch {
	case !ok:
		return StateNoMap
	case p.retired.Load():
		return StateRetired
	case p.current.Load() == nil:
		return StateNoMap
	}
	return StateActive
}

// Params returns the placement parameters of the pool.
func (r *Registry) Params(name string) (placement.Params, error) {
	p, err := r.lookup(name)
	if err != nil {
		return placement.Params{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params, nil
}

// Pools lists the pools that are not retired, in name order.
func (r *Registry) Pools() []string {
	var out []string
	r.pools.Range(func(name string, p *pool) bool {
		if !p.retired.Load() {
			out = append(out, name)
		}
		return true
	})
	return out
}

func observeLayout(m Metrics, pool string, fn func() (*domain.ObjectLayout, error)) (*domain.ObjectLayout, error) {
	start := time.Now()
	layout, err := fn()

	result := ResultOK
	switch {
	case err == nil:
	case zerrors.IsDegraded(err):
		result = ResultDegraded
	default:
		result = ResultFailed
	}
	m.ObserveLayout(pool, result, time.Since(start))
	return layout, err
}
