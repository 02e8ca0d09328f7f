package faultdomain

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		depth   int
		wantErr bool
	}{
		{in: "/rack0/node1", want: "/rack0/node1", depth: 2},
		{in: " /DC0/ Rack1 ", want: "/dc0/rack1", depth: 2},
		{in: "", want: "/", depth: 0},
		{in: "/", want: "/", depth: 0},
		{in: "rack0", wantErr: true},
		{in: "/rack0//node1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			fd, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, fd.String())
			assert.Equal(t, tt.depth, fd.Depth())
		})
	}

	fd, err := Parse(NilString)
	require.NoError(t, err)
	assert.Nil(t, fd)
	assert.True(t, fd.Empty())
	assert.Equal(t, NilString, fd.String())
}

func sampleRanks() []Rank {
	return []Rank{
		{ID: 3, Host: "rack1-b", FaultDomain: "/rack1/b", Targets: []domain.TargetID{31, 30}},
		{ID: 1, Host: "rack0-a", FaultDomain: "/rack0/a", Targets: []domain.TargetID{10, 11}},
		{ID: 2, Host: "rack1-a", FaultDomain: "/rack1/a", Targets: []domain.TargetID{20}},
		{ID: 0, Host: "rack0-b", FaultDomain: "/rack0/b", Targets: []domain.TargetID{0}},
	}
}

func TestBuildIsOrderIndependent(t *testing.T) {
	a, err := Build(sampleRanks(), PathPolicy{})
	require.NoError(t, err)

	reversed := sampleRanks()
	slices.Reverse(reversed)
	b, err := Build(reversed, PathPolicy{})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 2, a.Depth())
	assert.Equal(t, 4, a.RankCount())
	assert.Equal(t, 6, a.TargetCount())
}

func TestLeavesAreRestartable(t *testing.T) {
	tree, err := Build(sampleRanks(), PathPolicy{})
	require.NoError(t, err)

	var first, second []domain.TargetID
	for tgt := range tree.Leaves() {
		first = append(first, tgt.ID)
	}
	for tgt := range tree.Leaves() {
		second = append(second, tgt.ID)
	}
	// rack0/a, rack0/b, rack1/a, rack1/b; targets sorted within a rank.
	assert.Equal(t, []domain.TargetID{10, 11, 0, 20, 30, 31}, first)
	assert.Equal(t, first, second)

	for tgt := range tree.Leaves() {
		if tgt.ID == 0 {
			break
		}
	}
}

func TestPathOf(t *testing.T) {
	tree, err := Build(sampleRanks(), PathPolicy{})
	require.NoError(t, err)

	p10, ok := tree.PathOf(10)
	require.True(t, ok)
	p11, _ := tree.PathOf(11)
	p0, _ := tree.PathOf(0)
	p30, _ := tree.PathOf(30)

	require.Len(t, p10, 3)
	assert.Equal(t, p10, p11, "targets of one rank share the whole path")
	assert.Equal(t, p10[0], p0[0], "same rack")
	assert.NotEqual(t, p10[1], p0[1], "different node")
	assert.NotEqual(t, p10[0], p30[0], "different rack")
	assert.Equal(t, "rack0", tree.NodeName(int(p10[0])))
	assert.True(t, tree.IsRank(int(p10[2])))

	_, ok = tree.PathOf(99)
	assert.False(t, ok)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		ranks  []Rank
		policy Policy
	}{
		{"no ranks", nil, PathPolicy{}},
		{"missing domain", []Rank{{ID: 1, Targets: []domain.TargetID{1}}}, PathPolicy{}},
		{"too deep", []Rank{{ID: 1, FaultDomain: "/a/b/c", Targets: []domain.TargetID{1}}}, PathPolicy{Depth: 2}},
		{"mixed depth", []Rank{
			{ID: 1, FaultDomain: "/a/b", Targets: []domain.TargetID{1}},
			{ID: 2, FaultDomain: "/a", Targets: []domain.TargetID{2}},
		}, PathPolicy{}},
		{"rank in two domains", []Rank{
			{ID: 1, FaultDomain: "/a", Targets: []domain.TargetID{1}},
			{ID: 1, FaultDomain: "/b", Targets: []domain.TargetID{2}},
		}, PathPolicy{}},
		{"rank twice", []Rank{
			{ID: 1, FaultDomain: "/a", Targets: []domain.TargetID{1}},
			{ID: 1, FaultDomain: "/a", Targets: []domain.TargetID{2}},
		}, PathPolicy{}},
		{"shared target", []Rank{
			{ID: 1, FaultDomain: "/a", Targets: []domain.TargetID{1}},
			{ID: 2, FaultDomain: "/b", Targets: []domain.TargetID{1}},
		}, PathPolicy{}},
		{"host without prefix", []Rank{{ID: 1, Host: "node", Targets: []domain.TargetID{1}}}, PrefixPolicy{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.ranks, tt.policy)
			require.ErrorIs(t, err, zerrors.ErrInvalidTopology)

			var te *zerrors.TopologyError
			assert.ErrorAs(t, err, &te)
		})
	}
}

func TestPolicies(t *testing.T) {
	r := Rank{ID: 7, Host: "Rack2-node9", FaultDomain: "/rack2/node9"}

	got, err := PrefixPolicy{}.DomainsOf(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"rack2"}, got)

	got, err = PathPolicy{}.DomainsOf(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"rack2", "node9"}, got)

	got, err = FlatPolicy{}.DomainsOf(r)
	require.NoError(t, err)
	assert.Empty(t, got)

	for _, name := range []string{"", "path", "prefix", "flat"} {
		_, err := PolicyByName(name, 0, "")
		assert.NoError(t, err, name)
	}
	_, err = PolicyByName("crush", 0, "")
	assert.Error(t, err)
}

func TestFlatTree(t *testing.T) {
	tree, err := Build(sampleRanks(), FlatPolicy{})
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Depth())
	assert.Len(t, tree.Children(0), 4)

	path, ok := tree.PathOf(20)
	require.True(t, ok)
	require.Len(t, path, 1)
	assert.True(t, tree.IsRank(int(path[0])))
}
