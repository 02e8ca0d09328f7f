package registry

import (
	"context"
	"time"

	"github.com/zzenonn/zplace/internal/placement"
)

// VersionStore persists the latest published version of each pool so that
// replays of older snapshots are rejected after a restart.
type VersionStore interface {
	// LoadVersion returns zero for a pool that was never saved.
	LoadVersion(ctx context.Context, pool string) (uint64, error)
	// SaveVersion must refuse versions not above the stored one.
	SaveVersion(ctx context.Context, pool string, version uint64) error
}

// Metrics receives registry events.
type Metrics interface {
	SetVersion(pool string, version uint64)
	IncPublish(pool, result string)
	AddLiveMaps(pool string, delta int)
	ObserveLayout(pool, result string, d time.Duration)
}

// Publish results reported to Metrics.
const (
	ResultOK      = "ok"
	ResultStale   = "stale"
	ResultInvalid = "invalid"
	ResultError   = "error"

	ResultDegraded = "degraded"
	ResultFailed   = "failed"
)

type nopMetrics struct{}

func (nopMetrics) SetVersion(string, uint64)                   {}
func (nopMetrics) IncPublish(string, string)                   {}
func (nopMetrics) AddLiveMaps(string, int)                     {}
func (nopMetrics) ObserveLayout(string, string, time.Duration) {}

type nopStore struct{}

func (nopStore) LoadVersion(context.Context, string) (uint64, error) { return 0, nil }
func (nopStore) SaveVersion(context.Context, string, uint64) error   { return nil }

type cfg struct {
	store    VersionStore
	metrics  Metrics
	defaults placement.Params
}

func defaultCfg() *cfg {
	return &cfg{
		store:    nopStore{},
		metrics:  nopMetrics{},
		defaults: placement.DefaultParams(),
	}
}

// Option allows setting optional parameters of the Registry.
type Option func(*cfg)

// WithVersionStore returns an option to persist published versions.
func WithVersionStore(s VersionStore) Option {
	return func(c *cfg) {
		if s != nil {
			c.store = s
		}
	}
}

// WithMetrics returns an option to report registry events.
func WithMetrics(m Metrics) Option {
	return func(c *cfg) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithDefaultParams returns an option to set the parameters of pools that
// are created implicitly by their first Publish.
func WithDefaultParams(p placement.Params) Option {
	return func(c *cfg) {
		c.defaults = p
	}
}
