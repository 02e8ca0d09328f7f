package clustermap

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/faultdomain"
)

// Topology is the serialized membership document produced by the membership
// service. It is read from YAML files, SSM parameters or HTTP request bodies.
type Topology struct {
	Version uint64     `yaml:"version" json:"version"`
	Ranks   []RankSpec `yaml:"ranks" json:"ranks"`
}

// RankSpec describes one rank. Either Targets or TargetCount is given; with
// TargetCount the target ids are ID*TargetCount+i.
type RankSpec struct {
	ID          uint32       `yaml:"id" json:"id"`
	Host        string       `yaml:"host,omitempty" json:"host,omitempty"`
	FaultDomain string       `yaml:"fault_domain,omitempty" json:"fault_domain,omitempty"`
	Status      string       `yaml:"status,omitempty" json:"status,omitempty"`
	TargetCount int          `yaml:"target_count,omitempty" json:"target_count,omitempty"`
	Targets     []TargetSpec `yaml:"targets,omitempty" json:"targets,omitempty"`
}

// TargetSpec describes one target of a rank.
type TargetSpec struct {
	ID     uint32 `yaml:"id" json:"id"`
	Status string `yaml:"status,omitempty" json:"status,omitempty"`
}

// LoadTopologyFile reads a YAML (or JSON) topology document from disk.
func LoadTopologyFile(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology %s: %w", path, err)
	}
	return ParseTopologyYAML(data)
}

// ParseTopologyYAML decodes a YAML topology document.
func ParseTopologyYAML(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", zerrors.ErrInvalidTopology, err)
	}
	return &t, nil
}

// DecodeTopologyJSON decodes a JSON topology document.
func DecodeTopologyJSON(r io.Reader) (*Topology, error) {
	var t Topology
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", zerrors.ErrInvalidTopology, err)
	}
	return &t, nil
}

// Build converts the document into a fault-domain tree and statuses.
func (t *Topology) Build(policy faultdomain.Policy) (*faultdomain.Tree, Statuses, error) {
	statuses := Statuses{
		Ranks:   make(map[domain.RankID]domain.Status),
		Targets: make(map[domain.TargetID]domain.Status),
	}
	ranks := make([]faultdomain.Rank, 0, len(t.Ranks))

	for _, rs := range t.Ranks {
		r := faultdomain.Rank{
			ID:          domain.RankID(rs.ID),
			Host:        rs.Host,
			FaultDomain: rs.FaultDomain,
		}

		st, err := domain.ParseStatus(rs.Status)
		if err != nil {
			return nil, Statuses{}, zerrors.InvalidTopology("rank %d: %v", rs.ID, err)
		}
		if st != domain.StatusUp {
			statuses.Ranks[r.ID] = st
		}

		for i := 0; i < rs.TargetCount; i++ {
			r.Targets = append(r.Targets, domain.TargetID(int(rs.ID)*rs.TargetCount+i))
		}
		for _, ts := range rs.Targets {
			id := domain.TargetID(ts.ID)
			r.Targets = append(r.Targets, id)

			st, err := domain.ParseStatus(ts.Status)
			if err != nil {
				return nil, Statuses{}, zerrors.InvalidTopology("target %d: %v", ts.ID, err)
			}
			if st != domain.StatusUp {
				statuses.Targets[id] = st
			}
		}

		ranks = append(ranks, r)
	}

	tree, err := faultdomain.Build(ranks, policy)
	if err != nil {
		return nil, Statuses{}, err
	}
	return tree, statuses, nil
}
