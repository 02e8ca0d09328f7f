package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

func TestParseObjectClass(t *testing.T) {
	tests := []struct {
		name    string
		want    Redundancy
		wantStr string
	}{
		{"S1", Replicated(1), "S1"},
		{"rp_3", Replicated(3), "RP_3"},
		{"OC_RP_2G4", Redundancy{Replicas: 2, Groups: 4}, "RP_2G4"},
		{"EC_4P2", ErasureCoded(4, 2), "EC_4P2"},
		{"EC_8P2GX", Redundancy{DataShards: 8, ParityShards: 2, Groups: GroupsMax}, "EC_8P2GX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseObjectClass(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantStr, got.String())
			assert.NoError(t, got.Validate())
		})
	}
}

func TestParseObjectClassErrors(t *testing.T) {
	for _, name := range []string{
		"", "RP_0", "RP_x", "EC_4", "EC_0P2", "RP_2G0", "RP_2Gz", "XX_1",
		"RP_4611686018427387904G3", "RP_1099511627776", "RP_1025", "EC_1024P1", "RP_2G1025", "RP_128G1024",
	} {
		_, err := ParseObjectClass(name)
		assert.ErrorIsf(t, err, zerrors.ErrInvalidObjectClass, "class %q", name)
	}
}

func TestRedundancyWidth(t *testing.T) {
	assert.Equal(t, 3, Replicated(3).Width())
	assert.Equal(t, 6, ErasureCoded(4, 2).Width())
	assert.True(t, ErasureCoded(4, 2).IsErasure())
	assert.False(t, Replicated(2).IsErasure())
	assert.Equal(t, 1, Redundancy{Replicas: 2}.GroupCount())
}

func TestRedundancyValidate(t *testing.T) {
	assert.ErrorIs(t, Redundancy{}.Validate(), zerrors.ErrInvalidObjectClass)
	assert.ErrorIs(t, Redundancy{Replicas: 2, DataShards: 2}.Validate(), zerrors.ErrInvalidObjectClass)
	assert.ErrorIs(t, Redundancy{Replicas: -1}.Validate(), zerrors.ErrInvalidObjectClass)
	assert.ErrorIs(t, Redundancy{Replicas: 1, Groups: -2}.Validate(), zerrors.ErrInvalidObjectClass)

	assert.ErrorIs(t, Redundancy{Replicas: 1 << 40}.Validate(), zerrors.ErrInvalidObjectClass)
	assert.ErrorIs(t, Redundancy{DataShards: 1 << 62, ParityShards: 1 << 62}.Validate(), zerrors.ErrInvalidObjectClass)
	assert.ErrorIs(t, Redundancy{Replicas: 2, Groups: 1 << 62}.Validate(), zerrors.ErrInvalidObjectClass)
	assert.ErrorIs(t, Redundancy{Replicas: MaxGroupWidth, Groups: 65}.Validate(), zerrors.ErrInvalidObjectClass)
	assert.NoError(t, Redundancy{Replicas: MaxGroupWidth, Groups: 64}.Validate())
	assert.NoError(t, Redundancy{Replicas: MaxGroupWidth, Groups: GroupsMax}.Validate())
}

func TestObjectID(t *testing.T) {
	oid, err := ParseObjectID("1f.a")
	require.NoError(t, err)
	assert.Equal(t, ObjectID{Hi: 0x1f, Lo: 0xa}, oid)
	assert.Equal(t, "1f.a", oid.String())

	oid, err = ParseObjectID("ff")
	require.NoError(t, err)
	assert.Equal(t, ObjectID{Lo: 0xff}, oid)

	for _, bad := range []string{"", "zz", "1.q", "1.2.3"} {
		_, err := ParseObjectID(bad)
		assert.ErrorIsf(t, err, zerrors.ErrInvalidObjectID, "id %q", bad)
	}
}

func TestStatus(t *testing.T) {
	for _, st := range []Status{StatusUp, StatusDraining, StatusDown, StatusDownOut} {
		parsed, err := ParseStatus(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
	}
	st, err := ParseStatus("")
	require.NoError(t, err)
	assert.Equal(t, StatusUp, st)

	_, err = ParseStatus("flaky")
	assert.Error(t, err)

	assert.True(t, StatusDraining.Available())
	assert.False(t, StatusDownOut.Available())
}

func TestLayoutJSON(t *testing.T) {
	layout := &ObjectLayout{
		Version:    4,
		GroupSize:  2,
		GroupCount: 1,
		Shards: []ShardAssignment{
			{Group: 0, Shard: 0, Target: 3, Rank: 1},
			{Group: 0, Shard: 1, Target: 8, Rank: 2, Rebuilding: true},
		},
	}
	assert.False(t, layout.Degraded())
	assert.Equal(t, []TargetID{3, 8}, layout.Targets())
	assert.Equal(t, "v4 0.0 [0.0:t3 0.1:t8*]", layout.String())

	data, err := json.Marshal(layout)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":4,"group_size":2,"group_count":1,"shards":[
		{"group":0,"shard":0,"target":3,"rank":1,"rebuilding":false},
		{"group":0,"shard":1,"target":8,"rank":2,"rebuilding":true}]}`, string(data))
}
