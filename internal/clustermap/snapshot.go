// Package clustermap holds immutable, versioned views of a pool's targets
// and their status.
package clustermap

import (
	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/faultdomain"
)

// Statuses carries the membership state fed into Publish. Ranks or targets
// without an entry are up.
type Statuses struct {
	Ranks   map[domain.RankID]domain.Status
	Targets map[domain.TargetID]domain.Status
}

// TargetInfo is a target as seen by one snapshot.
type TargetInfo struct {
	faultdomain.Target
	Status domain.Status
	// ChangedAt is the version at which Status was last changed.
	ChangedAt uint64
	// ArrivedAt is the version at which the target last became available
	// after being down or absent, zero if it has served since the first
	// snapshot of the pool.
	ArrivedAt uint64
	// JoinedAt is the version that added the target, zero for targets of
	// the first snapshot.
	JoinedAt uint64
}

// Snapshot is an immutable view of a pool at one version. It is never
// modified after Publish returns; membership changes produce a new Snapshot.
type Snapshot struct {
	version   uint64
	tree      *faultdomain.Tree
	status    []domain.Status
	changedAt []uint64
	arrivedAt []uint64
	joinedAt  []uint64
	available int
}

// Publish builds the snapshot that follows prev. prev may be nil for the
// first snapshot of a pool.
func Publish(prev *Snapshot, version uint64, statuses Statuses, tree *faultdomain.Tree) (*Snapshot, error) {
	if tree == nil {
		return nil, zerrors.InvalidTopology("no fault-domain tree")
	}
	if version == 0 || (prev != nil && version <= prev.version) {
		return nil, &zerrors.StaleVersionError{Current: prev.Version(), Proposed: version}
	}

	for r := range statuses.Ranks {
		if !tree.HasRank(r) {
			return nil, zerrors.InvalidTopology("status given for unknown rank %d", r)
		}
	}
	for t := range statuses.Targets {
		if _, ok := tree.TargetIndex(t); !ok {
			return nil, zerrors.InvalidTopology("status given for unknown target %d", t)
		}
	}

	s := &Snapshot{
		version:   version,
		tree:      tree,
		status:    make([]domain.Status, tree.TargetCount()),
		changedAt: make([]uint64, tree.TargetCount()),
		arrivedAt: make([]uint64, tree.TargetCount()),
		joinedAt:  make([]uint64, tree.TargetCount()),
	}

	for tgt := range tree.Leaves() {
		st := effectiveStatus(statuses.Ranks[tgt.Rank], statuses.Targets[tgt.ID])
		s.status[tgt.Index] = st
		s.changedAt[tgt.Index] = version
		if st.Available() {
			s.available++
		}

		if prev == nil {
			continue
		}
		old, ok := prev.Lookup(tgt.ID)
		if !ok {
			s.joinedAt[tgt.Index] = version
			s.arrivedAt[tgt.Index] = version
			continue
		}
		s.joinedAt[tgt.Index] = old.JoinedAt
		s.arrivedAt[tgt.Index] = old.ArrivedAt
		if old.Status == st {
			s.changedAt[tgt.Index] = old.ChangedAt
		}
		if st.Available() && !old.Status.Available() {
			s.arrivedAt[tgt.Index] = version
		}
	}

	return s, nil
}

// effectiveStatus combines a rank's status with one of its targets'. A
// failed rank fails all its targets and a draining rank drains them.
func effectiveStatus(rank, target domain.Status) domain.Status {
	switch rank {
	case domain.StatusDown, domain.StatusDownOut:
		if target == domain.StatusDownOut {
			return target
		}
		return rank
	case domain.StatusDraining:
		if target == domain.StatusUp {
			return domain.StatusDraining
		}
	}
	return target
}

// Version returns the snapshot version, or zero for a nil snapshot.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// NewerThan reports whether the snapshot supersedes version v.
func (s *Snapshot) NewerThan(v uint64) bool {
	return s.Version() > v
}

// Tree returns the fault-domain tree of the snapshot.
func (s *Snapshot) Tree() *faultdomain.Tree {
	return s.tree
}

// StatusOf returns the status of a target. Targets that are not part of the
// snapshot are reported as StatusDownOut.
func (s *Snapshot) StatusOf(id domain.TargetID) domain.Status {
	i, ok := s.tree.TargetIndex(id)
	if !ok {
		return domain.StatusDownOut
	}
	return s.status[i]
}

// Lookup returns everything the snapshot knows about a target.
func (s *Snapshot) Lookup(id domain.TargetID) (TargetInfo, bool) {
	i, ok := s.tree.TargetIndex(id)
	if !ok {
		return TargetInfo{}, false
	}
	return s.info(i), true
}

// TargetsWithStatus lists the targets in the given state in tree order.
func (s *Snapshot) TargetsWithStatus(st domain.Status) []TargetInfo {
	var out []TargetInfo
	for i, cur := range s.status {
		if cur == st {
			out = append(out, s.info(i))
		}
	}
	return out
}

// Targets lists every target in tree order.
func (s *Snapshot) Targets() []TargetInfo {
	out := make([]TargetInfo, len(s.status))
	for i := range s.status {
		out[i] = s.info(i)
	}
	return out
}

// AvailableCount is the number of up or draining targets.
func (s *Snapshot) AvailableCount() int {
	return s.available
}

// StatusAt returns the status of the leaf at index i.
func (s *Snapshot) StatusAt(i int) domain.Status {
	return s.status[i]
}

// ChangedAt returns the version at which leaf i last changed status.
func (s *Snapshot) ChangedAt(i int) uint64 {
	return s.changedAt[i]
}

// ArrivedAt returns the version at which leaf i last came back or joined,
// zero if it has been available since the pool's first snapshot.
func (s *Snapshot) ArrivedAt(i int) uint64 {
	return s.arrivedAt[i]
}

// JoinedAt returns the version that added leaf i to the pool.
func (s *Snapshot) JoinedAt(i int) uint64 {
	return s.joinedAt[i]
}

func (s *Snapshot) info(i int) TargetInfo {
	return TargetInfo{
		Target:    s.tree.Target(i),
		Status:    s.status[i],
		ChangedAt: s.changedAt[i],
		ArrivedAt: s.arrivedAt[i],
		JoinedAt:  s.joinedAt[i],
	}
}

// Statuses returns the non-up target statuses of the snapshot in the form
// Publish accepts, for republishing the same membership at a new version.
func (s *Snapshot) Statuses() Statuses {
	out := Statuses{Targets: make(map[domain.TargetID]domain.Status)}
	for i, st := range s.status {
		if st != domain.StatusUp {
			out.Targets[s.tree.Target(i).ID] = st
		}
	}
	return out
}
