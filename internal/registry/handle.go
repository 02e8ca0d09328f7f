package registry

import (
	"runtime"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/placement"
)

type handleRef struct {
	pool     string
	m        *placement.Map
	released atomic.Bool
}

func (r *handleRef) release() bool {
	if !r.released.CompareAndSwap(false, true) {
		return false
	}
	r.m.DecRef()
	return true
}

// Handle pins one version of a pool's placement map. Layouts computed through
// a handle always use that version, even after newer ones are published.
//
// Release must be called when done; further calls do nothing. A handle that
// becomes unreachable without being released is released by the runtime and
// logged as a leak.
type Handle struct {
	ref     *handleRef
	metrics Metrics
}

func newHandle(pool string, m *placement.Map, metrics Metrics) *Handle {
	h := &Handle{
		ref:     &handleRef{pool: pool, m: m},
		metrics: metrics,
	}
	runtime.AddCleanup(h, func(ref *handleRef) {
		if ref.release() {
			log.WithFields(log.Fields{
				"pool":    ref.pool,
				"version": ref.m.Version(),
			}).Warn("Placement map handle was never released")
		}
	}, h.ref)
	return h
}

// Pool returns the pool the handle belongs to.
func (h *Handle) Pool() string { return h.ref.pool }

// Version returns the pinned map version.
func (h *Handle) Version() uint64 { return h.ref.m.Version() }

// Map returns the pinned map. It must not be used after Release.
func (h *Handle) Map() *placement.Map { return h.ref.m }

// Released reports whether Release has been called.
func (h *Handle) Released() bool { return h.ref.released.Load() }

// Release drops the handle's reference.
func (h *Handle) Release() {
	h.ref.release()
}

// ComputeLayout computes the layout of oid on the pinned version.
func (h *Handle) ComputeLayout(oid domain.ObjectID, red domain.Redundancy) (*domain.ObjectLayout, error) {
	if h.Released() {
		return nil, zerrors.ErrMapReleased
	}
	return observeLayout(h.metrics, h.ref.pool, func() (*domain.ObjectLayout, error) {
		return h.ref.m.ComputeLayout(oid, red)
	})
}

// FindRebuild plans the shard moves of oid on the pinned version.
func (h *Handle) FindRebuild(oid domain.ObjectID, red domain.Redundancy, since uint64) ([]placement.RebuildTask, error) {
	if h.Released() {
		return nil, zerrors.ErrMapReleased
	}
	return h.ref.m.FindRebuild(oid, red, since)
}
