package placement

import (
	"cmp"
	"errors"
	"slices"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// Move is a shard slot whose target differs between two layouts. From or To
// is domain.NoTarget when the slot was empty on that side.
type Move struct {
	Group int             `json:"group"`
	Shard int             `json:"shard"`
	From  domain.TargetID `json:"from"`
	To    domain.TargetID `json:"to"`
}

// RebuildReason says why a shard has to be rebuilt.
type RebuildReason uint8

const (
	// ReasonFailed: the shard's target went down.
	ReasonFailed RebuildReason = iota
	// ReasonDrain: the target is being evacuated.
	ReasonDrain
	// ReasonRemap: the target is healthy but the slot moved because an
	// earlier replacement did.
	ReasonRemap
	// ReasonMissing: the slot had no target before.
	ReasonMissing
	// ReasonReint: the slot returns to a target that came back up and holds
	// no copy yet.
	ReasonReint
	// ReasonAddition: the slot moves to a target added to the pool.
	ReasonAddition
)

func (r RebuildReason) String() string {
	switch r {
	case ReasonFailed:
		return "failed"
	case ReasonDrain:
		return "drain"
	case ReasonRemap:
		return "remap"
	case ReasonMissing:
		return "missing"
	case ReasonReint:
		return "reint"
	case ReasonAddition:
		return "addition"
	}
	return "unknown"
}

func (r RebuildReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// RebuildTask is one shard that has to be reconstructed on a new target.
type RebuildTask struct {
	Move
	Reason RebuildReason `json:"reason"`
}

// Diff compares two layouts of the same object slot by slot.
func Diff(before, after *domain.ObjectLayout) []Move {
	type key struct{ group, shard int }
	slots := make(map[key]*Move)
	get := func(k key) *Move {
		mv, ok := slots[k]
		if !ok {
			mv = &Move{Group: k.group, Shard: k.shard, From: domain.NoTarget, To: domain.NoTarget}
			slots[k] = mv
		}
		return mv
	}
	if before != nil {
		for _, s := range before.Shards {
			get(key{s.Group, s.Shard}).From = s.Target
		}
	}
	if after != nil {
		for _, s := range after.Shards {
			get(key{s.Group, s.Shard}).To = s.Target
		}
	}

	var out []Move
	for _, mv := range slots {
		if mv.From != mv.To {
			out = append(out, *mv)
		}
	}
	slices.SortFunc(out, func(a, b Move) int {
		if c := cmp.Compare(a.Group, b.Group); c != 0 {
			return c
		}
		return cmp.Compare(a.Shard, b.Shard)
	})
	return out
}

// FindRebuild lists the shards of oid that must move for the map to be
// fully served: shards whose target failed after version since, shards on
// draining targets, and shards that move onto targets which came back or
// joined after since. The baseline is the layout as it stood at since; the
// destination is the layout once every draining target has been evacuated.
func (m *Map) FindRebuild(oid domain.ObjectID, red domain.Redundancy, since uint64) ([]RebuildTask, error) {
	snap := m.snap
	before, err := m.compute(oid, red, func(i int) domain.Status {
		st := snap.StatusAt(i)
		switch {
		case !st.Available() && snap.ChangedAt(i) > since:
			return domain.StatusUp
		case st.Available() && snap.ArrivedAt(i) > since:
			return domain.StatusDown
		}
		return st
	})
	if err != nil && !errors.Is(err, zerrors.ErrInsufficientTargets) {
		return nil, err
	}
	after, err := m.compute(oid, red, func(i int) domain.Status {
		st := snap.StatusAt(i)
		if st == domain.StatusDraining {
			return domain.StatusDown
		}
		return st
	})
	if err != nil && !errors.Is(err, zerrors.ErrInsufficientTargets) {
		return nil, err
	}

	var tasks []RebuildTask
	for _, mv := range Diff(before, after) {
		if mv.To == domain.NoTarget && mv.From == domain.NoTarget {
			continue
		}
		tasks = append(tasks, RebuildTask{Move: mv, Reason: m.reason(mv, since)})
	}
	return tasks, nil
}

func (m *Map) reason(mv Move, since uint64) RebuildReason {
	if i, ok := m.snap.Tree().TargetIndex(mv.To); ok && m.snap.ArrivedAt(i) > since {
		if m.snap.JoinedAt(i) > since {
			return ReasonAddition
		}
		return ReasonReint
	}

	from := mv.From
	if from == domain.NoTarget {
		return ReasonMissing
	}
	switch m.snap.StatusOf(from) {
	case domain.StatusDown, domain.StatusDownOut:
		return ReasonFailed
	case domain.StatusDraining:
		return ReasonDrain
	}
	return ReasonRemap
}
