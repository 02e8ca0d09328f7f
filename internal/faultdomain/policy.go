package faultdomain

import (
	"fmt"
	"strings"

	"github.com/zzenonn/zplace/internal/domain"
)

// Rank is the membership record of a storage node as fed to Build.
type Rank struct {
	ID domain.RankID
	// Host is the node's host name, used by PrefixPolicy.
	Host string
	// FaultDomain is the declared path of the node, used by PathPolicy.
	FaultDomain string
	Targets     []domain.TargetID
}

// Policy maps a rank to the named domains above it.
type Policy interface {
	// DomainsOf returns the domain names from the top level down. An error
	// means the rank cannot be placed in any domain.
	DomainsOf(r Rank) ([]string, error)
	// MaxDepth bounds the number of levels DomainsOf may return.
	MaxDepth() int
}

// PathPolicy uses the fault-domain path each rank declares.
type PathPolicy struct {
	Depth int
}

func (p PathPolicy) DomainsOf(r Rank) ([]string, error) {
	fd, err := Parse(r.FaultDomain)
	if err != nil {
		return nil, err
	}
	if fd.Empty() {
		return nil, fmt.Errorf("rank %d has no fault domain", r.ID)
	}
	return fd.Domains, nil
}

func (p PathPolicy) MaxDepth() int {
	if p.Depth <= 0 {
		return DefaultMaxDepth
	}
	return p.Depth
}

// PrefixPolicy groups ranks by the part of their host name before Separator,
// so "rack1-node3" lands in domain "rack1".
type PrefixPolicy struct {
	Separator string
}

func (p PrefixPolicy) DomainsOf(r Rank) ([]string, error) {
	sep := p.Separator
	if sep == "" {
		sep = "-"
	}
	host := strings.ToLower(strings.TrimSpace(r.Host))
	prefix, _, found := strings.Cut(host, sep)
	if !found || prefix == "" {
		return nil, fmt.Errorf("host %q of rank %d has no %q prefix", r.Host, r.ID, sep)
	}
	return []string{prefix}, nil
}

func (p PrefixPolicy) MaxDepth() int { return 1 }

// FlatPolicy hangs every rank directly off the root.
type FlatPolicy struct{}

func (FlatPolicy) DomainsOf(Rank) ([]string, error) { return nil, nil }

func (FlatPolicy) MaxDepth() int { return 0 }

// PolicyByName resolves the names used in configuration.
func PolicyByName(name string, maxDepth int, separator string) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "path":
		return PathPolicy{Depth: maxDepth}, nil
	case "prefix":
		return PrefixPolicy{Separator: separator}, nil
	case "flat":
		return FlatPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown fault domain policy %q", name)
}
