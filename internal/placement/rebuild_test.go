package placement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/domain"
	"github.com/zzenonn/zplace/internal/placement"
)

func TestFindRebuild(t *testing.T) {
	red := domain.Replicated(3)

	for _, algo := range algorithms {
		t.Run(algo.String(), func(t *testing.T) {
			tree := rackTree(t, 3, 2, 2)
			v1 := publish(t, nil, 1, tree, nil)
			base, err := newMap(t, v1, algo).ComputeLayout(obj1, red)
			require.NoError(t, err)
			victim := base.Shards[1]

			t.Run("failed", func(t *testing.T) {
				v2 := publish(t, v1, 2, tree, map[domain.TargetID]domain.Status{victim.Target: domain.StatusDown})
				m := newMap(t, v2, algo)

				tasks, err := m.FindRebuild(obj1, red, 1)
				require.NoError(t, err)
				require.Len(t, tasks, 1)
				task := tasks[0]
				assert.Equal(t, placement.ReasonFailed, task.Reason)
				assert.Equal(t, victim.Group, task.Group)
				assert.Equal(t, victim.Shard, task.Shard)
				assert.Equal(t, victim.Target, task.From)

				current, err := m.ComputeLayout(obj1, red)
				require.NoError(t, err)
				assert.Equal(t, current.Shards[1].Target, task.To)
				assert.NotContains(t, base.Targets(), task.To)

				// Nothing new failed after version 2.
				tasks, err = m.FindRebuild(obj1, red, 2)
				require.NoError(t, err)
				assert.Empty(t, tasks)
			})

			t.Run("drain", func(t *testing.T) {
				v2 := publish(t, v1, 2, tree, map[domain.TargetID]domain.Status{victim.Target: domain.StatusDraining})
				m := newMap(t, v2, algo)

				tasks, err := m.FindRebuild(obj1, red, 2)
				require.NoError(t, err)
				require.Len(t, tasks, 1)
				assert.Equal(t, placement.ReasonDrain, tasks[0].Reason)
				assert.Equal(t, victim.Target, tasks[0].From)
				assert.NotEqual(t, domain.NoTarget, tasks[0].To)
				assert.Equal(t, domain.StatusUp, v2.StatusOf(tasks[0].To))
			})

			t.Run("healthy", func(t *testing.T) {
				tasks, err := newMap(t, v1, algo).FindRebuild(obj1, red, 0)
				require.NoError(t, err)
				assert.Empty(t, tasks)
			})
		})
	}
}

func TestFindRebuildWithoutSpareTarget(t *testing.T) {
	tree := flatTree(t, targetA, targetB, targetC)
	v1 := publish(t, nil, 1, tree, nil)
	v2 := publish(t, v1, 2, tree, map[domain.TargetID]domain.Status{targetB: domain.StatusDown})

	tasks, err := newMap(t, v2, placement.PseudoRandom).FindRebuild(obj1, domain.Replicated(3), 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, targetB, tasks[0].From)
	assert.Equal(t, domain.NoTarget, tasks[0].To)
	assert.Equal(t, placement.ReasonFailed, tasks[0].Reason)
}

func TestDiff(t *testing.T) {
	before := &domain.ObjectLayout{Shards: []domain.ShardAssignment{
		{Group: 0, Shard: 0, Target: 1},
		{Group: 0, Shard: 1, Target: 2},
		{Group: 1, Shard: 0, Target: 3},
	}}
	after := &domain.ObjectLayout{Shards: []domain.ShardAssignment{
		{Group: 0, Shard: 0, Target: 1},
		{Group: 0, Shard: 1, Target: 5},
		{Group: 1, Shard: 1, Target: 4},
	}}

	assert.Equal(t, []placement.Move{
		{Group: 0, Shard: 1, From: 2, To: 5},
		{Group: 1, Shard: 0, From: 3, To: domain.NoTarget},
		{Group: 1, Shard: 1, From: domain.NoTarget, To: 4},
	}, placement.Diff(before, after))

	assert.Empty(t, placement.Diff(before, before))
}

func TestFindRebuildReintegration(t *testing.T) {
	red := domain.Replicated(3)

	for _, algo := range algorithms {
		t.Run(algo.String(), func(t *testing.T) {
			tree := rackTree(t, 3, 2, 2)
			v1 := publish(t, nil, 1, tree, nil)
			base, err := newMap(t, v1, algo).ComputeLayout(obj1, red)
			require.NoError(t, err)
			victim := base.Shards[0]

			v2 := publish(t, v1, 2, tree, map[domain.TargetID]domain.Status{victim.Target: domain.StatusDown})
			degraded, err := newMap(t, v2, algo).ComputeLayout(obj1, red)
			require.NoError(t, err)
			v3 := publish(t, v2, 3, tree, nil)
			m := newMap(t, v3, algo)

			tasks, err := m.FindRebuild(obj1, red, 2)
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, placement.ReasonReint, tasks[0].Reason)
			assert.Equal(t, victim.Target, tasks[0].To)
			assert.Equal(t, degraded.Shards[0].Target, tasks[0].From)

			tasks, err = m.FindRebuild(obj1, red, 3)
			require.NoError(t, err)
			assert.Empty(t, tasks)
		})
	}
}

func TestFindRebuildAddition(t *testing.T) {
	ids := make([]domain.TargetID, 16)
	for i := range ids {
		ids[i] = domain.TargetID(i)
	}
	v1 := publish(t, nil, 1, flatTree(t, ids...), nil)
	v2 := publish(t, v1, 2, flatTree(t, append(ids, 16)...), nil)
	before := newMap(t, v1, placement.Ring)
	after := newMap(t, v2, placement.Ring)

	red := domain.Replicated(1)
	found := false
	for _, oid := range oids(500) {
		a, err := before.ComputeLayout(oid, red)
		require.NoError(t, err)

		tasks, err := after.FindRebuild(oid, red, 1)
		require.NoError(t, err)

		b, err := after.ComputeLayout(oid, red)
		require.NoError(t, err)
		if a.Shards[0].Target == b.Shards[0].Target {
			assert.Empty(t, tasks)
			continue
		}

		found = true
		require.Len(t, tasks, 1)
		assert.Equal(t, placement.ReasonAddition, tasks[0].Reason)
		assert.Equal(t, a.Shards[0].Target, tasks[0].From)
		assert.Equal(t, domain.TargetID(16), tasks[0].To)

		tasks, err = after.FindRebuild(oid, red, 2)
		require.NoError(t, err)
		assert.Empty(t, tasks)
	}
	assert.True(t, found)
}
