package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzenonn/zplace/internal/domain"
)

// Layouts must agree across nodes and releases, so these values are fixed.
func TestMix64Golden(t *testing.T) {
	tests := []struct {
		in, want uint64
	}{
		{0, 0},
		{1, 0x5692161d100b05e5},
		{0x0123456789abcdef, 0xb2c058e4ebb5112c},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, Mix64(tt.in), "Mix64(%#x)", tt.in)
	}
}

func TestCombineGolden(t *testing.T) {
	assert.Equal(t, uint64(0xe220a8397b1dcdaf), Combine(0, 0))
	assert.Equal(t, uint64(0x3706970b052f16b1), Combine(1, 2))
	assert.Equal(t, Combine(1, 2), ObjectKey(domain.ObjectID{Hi: 1, Lo: 2}))
}

func TestGroupSeedGolden(t *testing.T) {
	oid := domain.ObjectID{Hi: 1, Lo: 2}
	assert.Equal(t, uint64(0x95d0cdc04f1784dc), GroupSeed(oid, 0, 0))
	assert.Equal(t, uint64(0xb42d987e89f2d62f), GroupSeed(oid, 0, 1))
	assert.Equal(t, uint64(0xeb1af081425d69a6), GroupSeed(oid, 5, 1))
}

func TestSequenceGolden(t *testing.T) {
	seq := newSequence(0)
	assert.Equal(t, uint64(0xe220a8397b1dcdaf), seq.next())
	assert.Equal(t, uint64(0x6e789e6aa1b965f4), seq.next())
	assert.Equal(t, uint64(0x06c45d188009454f), seq.next())
}

func TestRingTokenGolden(t *testing.T) {
	tests := []struct {
		id   domain.TargetID
		salt uint32
		want uint64
	}{
		{0, 0, 0x34c96acdcadb1bbb},
		{1, 0, 0x9f29cb17a2a49995},
		{7, 3, 0xe9859db51eab46cf},
		{0xdeadbeef, 31, 0x167386529f3fda96},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, RingToken(tt.id, tt.salt), "RingToken(%d, %d)", tt.id, tt.salt)
	}
}

func TestGroupSeedsNeverCollide(t *testing.T) {
	for _, oid := range []domain.ObjectID{{}, {Hi: 1, Lo: 2}, {Hi: ^uint64(0), Lo: 42}} {
		seen := make(map[uint64]int)
		for g := range 4096 {
			s := GroupSeed(oid, 3, g)
			prev, dup := seen[s]
			require.Falsef(t, dup, "object %s: groups %d and %d share seed %#x", oid, prev, g, s)
			seen[s] = g
		}
	}
}

func TestSequencePickInRange(t *testing.T) {
	seq := newSequence(99)
	for n := 1; n < 50; n++ {
		for range 20 {
			v := seq.pick(n)
			require.GreaterOrEqual(t, v, 0)
			require.Less(t, v, n)
		}
	}
}
