package placement

import (
	"cmp"
	"slices"

	"github.com/zzenonn/zplace/internal/clustermap"
	"github.com/zzenonn/zplace/internal/faultdomain"
)

// Domain usage marks. A domain holding a shard on a failed target is only
// softly used: replacements may land there before crowding a domain that
// holds a live shard.
const (
	unused uint8 = iota
	softUsed
	hardUsed
)

// pseudoRandom descends the fault-domain tree once per shard, drawing each
// child from a seeded sequence. Candidates at each level are listed in
// ascending node id, so equal draws resolve to the same child everywhere.
type pseudoRandom struct {
	tree *faultdomain.Tree
	snap *clustermap.Snapshot

	rankOf []int
	// per node: targets and non-empty ranks in the subtree
	targets []int
	ranks   []int
}

func newPseudoRandom(snap *clustermap.Snapshot) *pseudoRandom {
	tree := snap.Tree()
	p := &pseudoRandom{
		tree:    tree,
		snap:    snap,
		rankOf:  make([]int, tree.TargetCount()),
		targets: make([]int, tree.NodeCount()),
		ranks:   make([]int, tree.NodeCount()),
	}
	for i := range p.rankOf {
		p.rankOf[i] = tree.RankNode(i)
	}
	for n := range tree.NodeCount() {
		if !tree.IsRank(n) || len(tree.NodeTargets(n)) == 0 {
			continue
		}
		cnt := len(tree.NodeTargets(n))
		for cur := n; cur >= 0; cur = tree.Parent(cur) {
			p.targets[cur] += cnt
			p.ranks[cur]++
		}
	}
	return p
}

func (p *pseudoRandom) placeGroup(seed uint64, width int, status statusFunc) []slot {
	w := p.newWalker(seed)
	slots := make([]slot, width)

	for i := range slots {
		leaf := w.descend()
		slots[i].leaf = leaf
		if leaf == noLeaf {
			continue
		}
		w.take(leaf)
		w.mark(leaf, hardUsed)
	}

	var failed []int
	for i, s := range slots {
		if s.leaf != noLeaf && !status(s.leaf).Available() {
			failed = append(failed, i)
		}
	}
	if len(failed) == 0 {
		return slots
	}

	// Replace the shards on unavailable targets, oldest failure first. The
	// initial picks stay taken so live shards never move.
	w.reset()
	for _, s := range slots {
		if s.leaf != noLeaf {
			w.take(s.leaf)
		}
	}
	for i, s := range slots {
		if s.leaf == noLeaf {
			continue
		}
		if slices.Contains(failed, i) {
			w.mark(s.leaf, softUsed)
		} else {
			w.mark(s.leaf, hardUsed)
		}
	}
	slices.SortStableFunc(failed, func(a, b int) int {
		return cmp.Compare(p.snap.ChangedAt(slots[a].leaf), p.snap.ChangedAt(slots[b].leaf))
	})

	for _, i := range failed {
		slots[i].leaf = noLeaf
		for {
			leaf := w.descend()
			if leaf == noLeaf {
				break
			}
			w.take(leaf)
			if !status(leaf).Available() {
				continue
			}
			w.mark(leaf, hardUsed)
			slots[i].leaf = leaf
			break
		}
	}
	return slots
}

type walker struct {
	p   *pseudoRandom
	seq sequence

	remaining []int
	used      []uint8
	// ranks with remaining targets and no shard, or no live shard
	clean []int
	soft  []int
	taken []bool

	buf []int
}

func (p *pseudoRandom) newWalker(seed uint64) *walker {
	n := p.tree.NodeCount()
	w := &walker{
		p:         p,
		seq:       newSequence(seed),
		remaining: make([]int, n),
		used:      make([]uint8, n),
		clean:     make([]int, n),
		soft:      make([]int, n),
		taken:     make([]bool, p.tree.TargetCount()),
	}
	w.reset()
	return w
}

// reset clears all marks but keeps the sequence position.
func (w *walker) reset() {
	copy(w.remaining, w.p.targets)
	copy(w.clean, w.p.ranks)
	copy(w.soft, w.p.ranks)
	clear(w.used)
	clear(w.taken)
}

func (w *walker) descend() int {
	tree := w.p.tree
	n := 0
	for !tree.IsRank(n) {
		n = w.chooseChild(n)
		if n < 0 {
			return noLeaf
		}
	}

	w.buf = w.buf[:0]
	for _, leaf := range tree.NodeTargets(n) {
		if !w.taken[leaf] {
			w.buf = append(w.buf, leaf)
		}
	}
	if len(w.buf) == 0 {
		return noLeaf
	}
	return w.buf[w.seq.pick(len(w.buf))]
}

// chooseChild draws a child of n from the best non-empty preference tier.
func (w *walker) chooseChild(n int) int {
	children := w.p.tree.Children(n)
	for tier := range 5 {
		w.buf = w.buf[:0]
		for _, c := range children {
			if w.eligible(c, tier) {
				w.buf = append(w.buf, c)
			}
		}
		if len(w.buf) > 0 {
			return w.buf[w.seq.pick(len(w.buf))]
		}
	}
	return -1
}

func (w *walker) eligible(c, tier int) bool {
	switch tier {
	case 0:
		return w.used[c] == unused && w.clean[c] > 0
	case 1:
		return w.used[c] <= softUsed && w.soft[c] > 0
	case 2:
		return w.clean[c] > 0
	case 3:
		return w.soft[c] > 0
	default:
		return w.remaining[c] > 0
	}
}

func (w *walker) take(leaf int) {
	r := w.p.rankOf[leaf]
	clean, soft := w.rankFree(r)
	for n := r; n >= 0; n = w.p.tree.Parent(n) {
		w.remaining[n]--
	}
	w.taken[leaf] = true
	w.propagate(r, clean, soft)
}

func (w *walker) mark(leaf int, level uint8) {
	r := w.p.rankOf[leaf]
	clean, soft := w.rankFree(r)
	for n := r; n >= 0; n = w.p.tree.Parent(n) {
		w.used[n] = max(w.used[n], level)
	}
	w.propagate(r, clean, soft)
}

func (w *walker) rankFree(r int) (clean, soft bool) {
	if w.remaining[r] <= 0 {
		return false, false
	}
	return w.used[r] == unused, w.used[r] <= softUsed
}

// propagate pushes a change of rank r's free state up to the root.
func (w *walker) propagate(r int, wasClean, wasSoft bool) {
	clean, soft := w.rankFree(r)
	dc, ds := delta(wasClean, clean), delta(wasSoft, soft)
	if dc == 0 && ds == 0 {
		return
	}
	for n := r; n >= 0; n = w.p.tree.Parent(n) {
		w.clean[n] += dc
		w.soft[n] += ds
	}
}

func delta(before, after bool) int {
	switch {
	case before && !after:
		return -1
	case !before && after:
		return 1
	}
	return 0
}
