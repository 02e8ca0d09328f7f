package placement

import (
	"cmp"
	"slices"
	"sort"

	"github.com/zzenonn/zplace/internal/clustermap"
	"github.com/zzenonn/zplace/internal/faultdomain"
)

type ringToken struct {
	pos  uint64
	leaf int32
}

// hashRing places a group by walking the token ring clockwise from the
// group seed. Every target owns VirtualNodes tokens regardless of status, so
// the ring only changes when the topology does.
type hashRing struct {
	tree   *faultdomain.Tree
	snap   *clustermap.Snapshot
	tokens []ringToken
	rankOf []int
}

func newHashRing(snap *clustermap.Snapshot, vnodes int) *hashRing {
	tree := snap.Tree()
	r := &hashRing{
		tree:   tree,
		snap:   snap,
		tokens: make([]ringToken, 0, tree.TargetCount()*vnodes),
		rankOf: make([]int, tree.TargetCount()),
	}
	for tgt := range tree.Leaves() {
		r.rankOf[tgt.Index] = tree.RankNode(tgt.Index)
		for salt := range vnodes {
			r.tokens = append(r.tokens, ringToken{
				pos:  RingToken(tgt.ID, uint32(salt)),
				leaf: int32(tgt.Index),
			})
		}
	}
	slices.SortFunc(r.tokens, func(a, b ringToken) int {
		if c := cmp.Compare(a.pos, b.pos); c != 0 {
			return c
		}
		return cmp.Compare(tree.Target(int(a.leaf)).ID, tree.Target(int(b.leaf)).ID)
	})
	return r
}

// successors lists every target once, in clockwise order of its first token
// at or after pos.
func (r *hashRing) successors(pos uint64) []int {
	n := len(r.tokens)
	start := sort.Search(n, func(i int) bool { return r.tokens[i].pos >= pos })

	seen := make([]bool, r.tree.TargetCount())
	order := make([]int, 0, r.tree.TargetCount())
	for i := 0; i < n && len(order) < cap(order); i++ {
		leaf := int(r.tokens[(start+i)%n].leaf)
		if !seen[leaf] {
			seen[leaf] = true
			order = append(order, leaf)
		}
	}
	return order
}

func (r *hashRing) placeGroup(seed uint64, width int, status statusFunc) []slot {
	order := r.successors(seed)
	used := make([]bool, r.tree.NodeCount())
	taken := make([]bool, r.tree.TargetCount())

	slots := make([]slot, width)
	next := 0
	for pass := 0; pass < 3 && next < width; pass++ {
		for _, leaf := range order {
			if next == width {
				break
			}
			if taken[leaf] || !r.diverse(leaf, used, pass) {
				continue
			}
			taken[leaf] = true
			r.mark(leaf, used)
			slots[next].leaf = leaf
			next++
		}
	}
	for i := next; i < width; i++ {
		slots[i].leaf = noLeaf
	}

	var failed []int
	for i := range next {
		if !status(slots[i].leaf).Available() {
			failed = append(failed, i)
		}
	}
	if len(failed) == 0 {
		return slots
	}

	// Only live shards constrain replacements.
	clear(used)
	for i := range next {
		if !slices.Contains(failed, i) {
			r.mark(slots[i].leaf, used)
		}
	}
	slices.SortStableFunc(failed, func(a, b int) int {
		return cmp.Compare(r.snap.ChangedAt(slots[a].leaf), r.snap.ChangedAt(slots[b].leaf))
	})

	for _, i := range failed {
		slots[i].leaf = noLeaf
	search:
		for pass := range 3 {
			for _, leaf := range order {
				if taken[leaf] || !status(leaf).Available() || !r.diverse(leaf, used, pass) {
					continue
				}
				taken[leaf] = true
				r.mark(leaf, used)
				slots[i].leaf = leaf
				break search
			}
		}
	}
	return slots
}

// diverse reports whether leaf is acceptable in the given pass: first with
// its rank and every enclosing domain unused, then with only its rank
// unused, then unconditionally.
func (r *hashRing) diverse(leaf int, used []bool, pass int) bool {
	rank := r.rankOf[leaf]
	switch pass {
	case 0:
		for n := rank; n > 0; n = r.tree.Parent(n) {
			if used[n] {
				return false
			}
		}
		return true
	case 1:
		return !used[rank]
	}
	return true
}

func (r *hashRing) mark(leaf int, used []bool) {
	for n := r.rankOf[leaf]; n > 0; n = r.tree.Parent(n) {
		used[n] = true
	}
}
