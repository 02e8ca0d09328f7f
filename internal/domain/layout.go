package domain

import (
	"fmt"
	"math"
	"strings"
)

// TargetID identifies a target across the whole pool.
type TargetID uint32

// RankID identifies a storage node.
type RankID uint32

// ShardAssignment places one shard of one redundancy group on a target.
type ShardAssignment struct {
	Group  int      `json:"group"`
	Shard  int      `json:"shard"`
	Target TargetID `json:"target"`
	Rank   RankID   `json:"rank"`
	// Rebuilding is set when the target is draining; readers may need to
	// fall back to another shard.
	Rebuilding bool `json:"rebuilding"`
}

// ObjectLayout is the computed placement of an object for one map version.
type ObjectLayout struct {
	Version    uint64            `json:"version"`
	Object     ObjectID          `json:"-"`
	Redundancy Redundancy        `json:"-"`
	GroupSize  int               `json:"group_size"`
	GroupCount int               `json:"group_count"`
	Shards     []ShardAssignment `json:"shards"`
}

// Requested is the number of shards the layout was asked to place.
func (l *ObjectLayout) Requested() int {
	return l.GroupSize * l.GroupCount
}

// Degraded reports whether fewer shards were placed than requested.
func (l *ObjectLayout) Degraded() bool {
	return len(l.Shards) < l.Requested()
}

// Group returns the assignments of group g in shard order.
func (l *ObjectLayout) Group(g int) []ShardAssignment {
	var out []ShardAssignment
	for _, s := range l.Shards {
		if s.Group == g {
			out = append(out, s)
		}
	}
	return out
}

// Targets returns the target of every placed shard in layout order.
func (l *ObjectLayout) Targets() []TargetID {
	out := make([]TargetID, len(l.Shards))
	for i, s := range l.Shards {
		out[i] = s.Target
	}
	return out
}

func (l *ObjectLayout) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "v%d %s [", l.Version, l.Object)
	for i, s := range l.Shards {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d.%d:t%d", s.Group, s.Shard, s.Target)
		if s.Rebuilding {
			b.WriteByte('*')
		}
	}
	b.WriteByte(']')
	return b.String()
}

// NoTarget marks a shard slot that has no target.
const NoTarget TargetID = math.MaxUint32
