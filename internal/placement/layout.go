package placement

import (
	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

func (m *Map) compute(oid domain.ObjectID, red domain.Redundancy, status statusFunc) (*domain.ObjectLayout, error) {
	if m.released.Load() {
		return nil, zerrors.ErrMapReleased
	}
	if red == (domain.Redundancy{}) {
		red = m.params.Redundancy
	}
	if err := red.Validate(); err != nil {
		return nil, err
	}

	width := red.Width()
	groups := m.GroupCount(red)
	layout := &domain.ObjectLayout{
		Version:    m.Version(),
		Object:     oid,
		Redundancy: red,
		GroupSize:  width,
		GroupCount: groups,
		Shards:     make([]domain.ShardAssignment, 0, width*groups),
	}

	tree := m.snap.Tree()
	for g := range groups {
		slots := m.algo.placeGroup(GroupSeed(oid, m.params.Generation, g), width, status)
		for s, sl := range slots {
			if sl.leaf == noLeaf {
				continue
			}
			tgt := tree.Target(sl.leaf)
			layout.Shards = append(layout.Shards, domain.ShardAssignment{
				Group:      g,
				Shard:      s,
				Target:     tgt.ID,
				Rank:       tgt.Rank,
				Rebuilding: status(sl.leaf) == domain.StatusDraining,
			})
		}
	}

	if len(layout.Shards) < layout.Requested() {
		return layout, &zerrors.InsufficientTargetsError{
			Requested: layout.Requested(),
			Placed:    len(layout.Shards),
		}
	}
	return layout, nil
}

// GroupCount resolves the number of redundancy groups red gets on this map.
// domain.GroupsMax yields one group per width targets, at least one.
func (m *Map) GroupCount(red domain.Redundancy) int {
	if red.Groups == domain.GroupsMax {
		return max(1, m.snap.Tree().TargetCount()/red.Width())
	}
	return red.GroupCount()
}
