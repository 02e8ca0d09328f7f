// Package placement computes deterministic object layouts over a cluster map
// snapshot.
//
// A Map binds one immutable snapshot to one placement algorithm. Any two
// processes holding maps built from the same snapshot and Params compute the
// same layout for the same object, without talking to each other. The
// algorithms are:
//
//   - PseudoRandom walks the fault-domain tree top-down with a seeded
//     sequence, spreading shards across the widest domains first.
//   - Ring hashes every target onto a token ring and walks clockwise from the
//     object's position, keeping neighbouring layouts stable when targets
//     come and go.
//
// Both algorithms choose the initial targets from the tree alone and then
// replace the shards that landed on unavailable targets, so a status change
// only moves the shards on the targets that changed.
//
// Maps are reference counted. The creator owns one reference; AddRef and
// DecRef manage the rest, and the map is released when the count reaches
// zero. A released map refuses further layout requests.
package placement

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/zzenonn/zplace/internal/clustermap"
	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// Algorithm selects how a Map chooses targets.
type Algorithm uint8

const (
	PseudoRandom Algorithm = iota
	Ring
)

// DefaultVirtualNodes is the number of ring tokens per target.
const DefaultVirtualNodes = 32

func (a Algorithm) String() string {
	switch a {
	case PseudoRandom:
		return "pseudo_random"
	case Ring:
		return "ring"
	}
	return fmt.Sprintf("algorithm(%d)", uint8(a))
}

// ParseAlgorithm accepts the names printed by Algorithm.String, plus a few
// short forms.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pseudo_random", "pseudo-random", "pseudorandom", "jump":
		return PseudoRandom, nil
	case "ring":
		return Ring, nil
	}
	return 0, fmt.Errorf("unknown placement algorithm %q", s)
}

func (a Algorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Algorithm) UnmarshalText(text []byte) error {
	v, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Params configure a Map. Maps built from the same snapshot and the same
// Params produce the same layouts.
type Params struct {
	Algorithm Algorithm
	// Redundancy is used when ComputeLayout is called with the zero value.
	Redundancy domain.Redundancy
	// VirtualNodes is the number of ring tokens per target; Ring only.
	VirtualNodes int
	// Generation is mixed into every seed. It changes only when the pool is
	// re-placed, not on ordinary membership changes.
	Generation uint64
}

// DefaultParams returns pseudo-random placement of three replicas.
func DefaultParams() Params {
	return Params{
		Algorithm:    PseudoRandom,
		Redundancy:   domain.Replicated(3),
		VirtualNodes: DefaultVirtualNodes,
	}
}

// Option customizes a Map.
type Option func(*Map)

// WithReleaseHook registers fn to run once, when the last reference is
// dropped.
func WithReleaseHook(fn func(*Map)) Option {
	return func(m *Map) {
		m.onRelease = fn
	}
}

// statusFunc reports the status used for the leaf at index i while
// computing a layout.
type statusFunc func(i int) domain.Status

// algorithm is implemented by every placement variant. A variant fills
// one group: it returns exactly width slots, using noLeaf for slots it
// could not fill.
type algorithm interface {
	placeGroup(seed uint64, width int, status statusFunc) []slot
}

const noLeaf = -1

type slot struct {
	leaf int
}

// Map is a placement map: a snapshot plus the derived state an algorithm
// needs. All methods are safe for concurrent use.
type Map struct {
	snap   *clustermap.Snapshot
	params Params
	algo   algorithm

	refs      atomic.Int64
	released  atomic.Bool
	onRelease func(*Map)
}

// New builds a map for snap. The returned map holds one reference owned by
// the caller.
func New(snap *clustermap.Snapshot, params Params, opts ...Option) (*Map, error) {
	if snap == nil || snap.Tree() == nil {
		return nil, zerrors.InvalidTopology("no snapshot to place over")
	}
	if params.Redundancy == (domain.Redundancy{}) {
		params.Redundancy = domain.Replicated(3)
	}
	if err := params.Redundancy.Validate(); err != nil {
		return nil, err
	}
	if params.VirtualNodes <= 0 {
		params.VirtualNodes = DefaultVirtualNodes
	}

	m := &Map{snap: snap, params: params}
	switch params.Algorithm {
	case PseudoRandom:
		m.algo = newPseudoRandom(snap)
	case Ring:
		m.algo = newHashRing(snap, params.VirtualNodes)
	default:
		return nil, fmt.Errorf("unsupported placement algorithm %s", params.Algorithm)
	}

	for _, opt := range opts {
		opt(m)
	}
	m.refs.Store(1)
	return m, nil
}

// Version is the version of the underlying snapshot.
func (m *Map) Version() uint64 {
	return m.snap.Version()
}

// Snapshot returns the snapshot the map places over.
func (m *Map) Snapshot() *clustermap.Snapshot {
	return m.snap
}

// Params returns the parameters the map was built with, defaults applied.
func (m *Map) Params() Params {
	return m.params
}

// Algorithm returns the placement variant of the map.
func (m *Map) Algorithm() Algorithm {
	return m.params.Algorithm
}

// AddRef takes another reference. It fails once the map has been released.
func (m *Map) AddRef() bool {
	for {
		n := m.refs.Load()
		if n <= 0 {
			return false
		}
		if m.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// DecRef drops a reference and reports whether it was the last one. Calls
// beyond the last reference are ignored.
func (m *Map) DecRef() bool {
	for {
		n := m.refs.Load()
		if n <= 0 {
			return false
		}
		if !m.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n > 1 {
			return false
		}
		m.released.Store(true)
		if m.onRelease != nil {
			m.onRelease(m)
		}
		return true
	}
}

// Refs returns the current reference count.
func (m *Map) Refs() int64 {
	return m.refs.Load()
}

// Released reports whether the last reference has been dropped.
func (m *Map) Released() bool {
	return m.released.Load()
}

// ComputeLayout places every shard of oid. The zero Redundancy selects the
// map's default class.
//
// When fewer targets are eligible than requested, the partial layout is
// returned together with an *errors.InsufficientTargetsError; the placed
// shards are valid.
func (m *Map) ComputeLayout(oid domain.ObjectID, red domain.Redundancy) (*domain.ObjectLayout, error) {
	return m.compute(oid, red, m.snap.StatusAt)
}
