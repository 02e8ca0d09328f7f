package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

type fakeSSM struct {
	params map[string]string
	err    error
	asked  []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.asked = append(f.asked, aws.ToString(in.Name))
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.params[aws.ToString(in.Name)]
	if !ok {
		return nil, &types.ParameterNotFound{Message: aws.String("missing")}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name:    in.Name,
		Value:   aws.String(v),
		Version: 3,
	}}, nil
}

const topologyDoc = `
version: 4
ranks:
  - id: 0
    fault_domain: /rack0/node0
    target_count: 2
  - id: 1
    fault_domain: /rack1/node1
    target_count: 2
    status: down
`

func TestLoad(t *testing.T) {
	client := &fakeSSM{params: map[string]string{"/zplace/tank/topology": topologyDoc}}
	src := NewTopologySource(client, "/zplace/tank/topology")

	topo, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), topo.Version)
	require.Len(t, topo.Ranks, 2)
	assert.Equal(t, "down", topo.Ranks[1].Status)
	assert.Equal(t, []string{"/zplace/tank/topology"}, client.asked)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewTopologySource(&fakeSSM{}, "/missing").Load(ctx)
	assert.ErrorContains(t, err, "does not exist")

	boom := errors.New("throttled")
	_, err = NewTopologySource(&fakeSSM{err: boom}, "/x").Load(ctx)
	assert.ErrorIs(t, err, boom)

	client := &fakeSSM{params: map[string]string{"/bad": "ranks: [unterminated"}}
	_, err = NewTopologySource(client, "/bad").Load(ctx)
	assert.ErrorIs(t, err, zerrors.ErrInvalidTopology)
}
