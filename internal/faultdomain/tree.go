package faultdomain

import (
	"cmp"
	"iter"
	"slices"
	"strings"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// Target is a leaf of the tree.
type Target struct {
	ID   domain.TargetID
	Rank domain.RankID
	// Index is the target's position in leaf order.
	Index int
}

type node struct {
	name     string
	level    int
	parent   int
	children []int
	// targets holds leaf indices; only rank nodes have any.
	targets []int
	rank    domain.RankID
	isRank  bool
}

// Tree is an immutable fault-domain hierarchy: the root, the named levels
// produced by a Policy, one node per rank, and the targets under each rank.
//
// Node ids are dense, assigned breadth-first with named siblings ordered by
// name and rank siblings by rank id, so two trees built from the same input
// are identical regardless of input order.
type Tree struct {
	nodes    []node
	targets  []Target
	byTarget map[domain.TargetID]int
	byRank   map[domain.RankID]int
	depth    int
}

type trie struct {
	name     string
	children map[string]*trie
	ranks    []Rank
}

func newTrie(name string) *trie {
	return &trie{name: name, children: make(map[string]*trie)}
}

// Build groups ranks into a tree according to policy.
func Build(ranks []Rank, policy Policy) (*Tree, error) {
	if policy == nil {
		policy = FlatPolicy{}
	}
	if len(ranks) == 0 {
		return nil, zerrors.InvalidTopology("no ranks")
	}

	root := newTrie("")
	seenRanks := make(map[domain.RankID]string, len(ranks))
	seenTargets := make(map[domain.TargetID]domain.RankID)
	depth := -1

	for _, r := range ranks {
		path, err := policy.DomainsOf(r)
		if err != nil {
			return nil, zerrors.InvalidTopology("rank %d: %v", r.ID, err)
		}
		if len(path) > policy.MaxDepth() {
			return nil, zerrors.InvalidTopology("rank %d: depth %d exceeds maximum %d", r.ID, len(path), policy.MaxDepth())
		}
		if depth >= 0 && len(path) != depth {
			return nil, zerrors.InvalidTopology("rank %d: depth %d differs from %d", r.ID, len(path), depth)
		}
		depth = len(path)

		key := Separator + strings.Join(path, Separator)
		if prev, ok := seenRanks[r.ID]; ok {
			if prev != key {
				return nil, zerrors.InvalidTopology("rank %d maps to domains %s and %s", r.ID, prev, key)
			}
			return nil, zerrors.InvalidTopology("rank %d listed twice", r.ID)
		}
		seenRanks[r.ID] = key

		for _, t := range r.Targets {
			if owner, ok := seenTargets[t]; ok {
				return nil, zerrors.InvalidTopology("target %d belongs to ranks %d and %d", t, owner, r.ID)
			}
			seenTargets[t] = r.ID
		}

		cur := root
		for _, name := range path {
			next, ok := cur.children[name]
			if !ok {
				next = newTrie(name)
				cur.children[name] = next
			}
			cur = next
		}
		cur.ranks = append(cur.ranks, r)
	}

	t := &Tree{
		byTarget: make(map[domain.TargetID]int, len(seenTargets)),
		byRank:   make(map[domain.RankID]int, len(ranks)),
		depth:    depth,
	}
	t.flatten(root)
	return t, nil
}

// flatten lays the trie out breadth-first and then numbers the targets in
// depth-first order.
func (t *Tree) flatten(root *trie) {
	type item struct {
		tr     *trie
		rank   *Rank
		parent int
		level  int
	}

	rankTargets := make(map[domain.RankID][]domain.TargetID)
	queue := []item{{tr: root, parent: -1}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		idx := len(t.nodes)
		n := node{parent: it.parent, level: it.level}
		if it.parent >= 0 {
			t.nodes[it.parent].children = append(t.nodes[it.parent].children, idx)
		}

		if it.rank != nil {
			n.name = it.rank.Host
			n.rank = it.rank.ID
			n.isRank = true
			t.byRank[it.rank.ID] = idx
			ids := slices.Clone(it.rank.Targets)
			slices.Sort(ids)
			rankTargets[it.rank.ID] = ids
			t.nodes = append(t.nodes, n)
			continue
		}

		n.name = it.tr.name
		t.nodes = append(t.nodes, n)

		names := make([]string, 0, len(it.tr.children))
		for name := range it.tr.children {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			queue = append(queue, item{tr: it.tr.children[name], parent: idx, level: it.level + 1})
		}

		ranks := slices.Clone(it.tr.ranks)
		slices.SortFunc(ranks, func(a, b Rank) int {
			return cmp.Compare(a.ID, b.ID)
		})
		for i := range ranks {
			queue = append(queue, item{rank: &ranks[i], parent: idx, level: it.level + 1})
		}
	}

	var walk func(n int)
	walk = func(n int) {
		if t.nodes[n].isRank {
			for _, id := range rankTargets[t.nodes[n].rank] {
				leaf := len(t.targets)
				t.targets = append(t.targets, Target{ID: id, Rank: t.nodes[n].rank, Index: leaf})
				t.byTarget[id] = leaf
				t.nodes[n].targets = append(t.nodes[n].targets, leaf)
			}
			return
		}
		for _, c := range t.nodes[n].children {
			walk(c)
		}
	}
	walk(0)
}

// Leaves yields every target in tree order. The sequence can be ranged over
// any number of times.
func (t *Tree) Leaves() iter.Seq[Target] {
	return func(yield func(Target) bool) {
		for _, tgt := range t.targets {
			if !yield(tgt) {
				return
			}
		}
	}
}

// PathOf returns the ids of the domains containing target, from the first
// named level down to its rank node.
func (t *Tree) PathOf(id domain.TargetID) ([]uint32, bool) {
	leaf, ok := t.byTarget[id]
	if !ok {
		return nil, false
	}
	n := t.nodes[t.RankNode(leaf)]
	path := make([]uint32, n.level)
	for cur := t.RankNode(leaf); cur > 0; cur = t.nodes[cur].parent {
		path[t.nodes[cur].level-1] = uint32(cur)
	}
	return path, true
}

// Depth is the number of named levels between the root and the ranks.
func (t *Tree) Depth() int { return t.depth }

// NodeCount returns the number of nodes including the root and ranks.
func (t *Tree) NodeCount() int { return len(t.nodes) }

// TargetCount returns the number of leaves.
func (t *Tree) TargetCount() int { return len(t.targets) }

// RankCount returns the number of rank nodes.
func (t *Tree) RankCount() int { return len(t.byRank) }

// Children returns the child node ids of n in stable order. The slice must
// not be modified.
func (t *Tree) Children(n int) []int { return t.nodes[n].children }

// NodeTargets returns the leaf indices under rank node n. The slice must not
// be modified.
func (t *Tree) NodeTargets(n int) []int { return t.nodes[n].targets }

// IsRank reports whether n is a rank node.
func (t *Tree) IsRank(n int) bool { return t.nodes[n].isRank }

// Parent returns the parent of n, or -1 for the root.
func (t *Tree) Parent(n int) int { return t.nodes[n].parent }

// NodeName returns the domain name of n, or the host of a rank node.
func (t *Tree) NodeName(n int) string { return t.nodes[n].name }

// Target returns the leaf at index i.
func (t *Tree) Target(i int) Target { return t.targets[i] }

// TargetIndex resolves a target id to its leaf index.
func (t *Tree) TargetIndex(id domain.TargetID) (int, bool) {
	i, ok := t.byTarget[id]
	return i, ok
}

// RankNode returns the rank node holding leaf i.
func (t *Tree) RankNode(leaf int) int {
	return t.byRank[t.targets[leaf].Rank]
}

// HasRank reports whether the rank is part of the tree.
func (t *Tree) HasRank(id domain.RankID) bool {
	_, ok := t.byRank[id]
	return ok
}
