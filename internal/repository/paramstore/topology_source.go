// Package paramstore reads cluster topology documents from AWS Systems
// Manager Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/clustermap"
)

// SSMAPI is the subset of the SSM client used to fetch parameters.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// TopologySource loads a topology document stored in one parameter. The
// parameter value is the same YAML document accepted from files.
type TopologySource struct {
	client SSMAPI
	name   string
}

func NewTopologySource(client SSMAPI, name string) *TopologySource {
	return &TopologySource{client: client, name: name}
}

// NewTopologySourceFromConfig builds a source backed by a real SSM client.
func NewTopologySourceFromConfig(cfg aws.Config, name string) *TopologySource {
	return NewTopologySource(ssm.NewFromConfig(cfg), name)
}

// Load fetches and decodes the topology. The parameter version is logged so
// operators can match a published cluster map to the parameter history.
func (s *TopologySource) Load(ctx context.Context) (*clustermap.Topology, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("topology parameter %s does not exist", s.name)
		}
		return nil, fmt.Errorf("failed to get topology parameter %s: %w", s.name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("topology parameter %s has no value", s.name)
	}

	log.WithFields(log.Fields{
		"parameter": s.name,
		"version":   out.Parameter.Version,
	}).Debug("loaded topology parameter")

	return clustermap.ParseTopologyYAML([]byte(aws.ToString(out.Parameter.Value)))
}
