// Package faultdomain describes the hierarchy of racks, nodes and targets used
// to keep replicas of an object away from correlated failures.
//
// A fault domain is written as a path from the top level down, for example
// "/dc0/rack1/node3". Paths are normalized to lower case with surrounding
// whitespace removed, so "/DC0/ Rack1" and "/dc0/rack1" name the same domain.
//
// The Tree built from a rank list is immutable. Membership changes produce a
// new Tree which is then published in a new cluster map snapshot.
package faultdomain

import (
	"fmt"
	"strings"
)

const (
	// Separator splits the levels of a fault-domain path.
	Separator = "/"
	// NilString is the textual form of an unset fault domain.
	NilString = "(nil)"
	// DefaultMaxDepth bounds the number of named levels above the ranks.
	DefaultMaxDepth = 4
)

// FaultDomain is a normalized fault-domain path.
type FaultDomain struct {
	Domains []string
}

// New builds a FaultDomain from individual level names.
func New(domains ...string) (*FaultDomain, error) {
	fd := &FaultDomain{}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || strings.Contains(d, Separator) {
			return nil, fmt.Errorf("invalid fault domain level %q", d)
		}
		fd.Domains = append(fd.Domains, d)
	}
	return fd, nil
}

// Parse parses a path such as "/rack0/node1". The empty path and the bare
// separator both denote the root.
func Parse(s string) (*FaultDomain, error) {
	s = strings.TrimSpace(s)
	if s == NilString {
		return nil, nil
	}
	if s == "" || s == Separator {
		return &FaultDomain{}, nil
	}
	if !strings.HasPrefix(s, Separator) {
		return nil, fmt.Errorf("fault domain %q must start with %q", s, Separator)
	}

	levels := strings.Split(strings.TrimPrefix(s, Separator), Separator)
	fd, err := New(levels...)
	if err != nil {
		return nil, fmt.Errorf("invalid fault domain %q: %w", s, err)
	}
	return fd, nil
}

// Empty reports whether the fault domain is the root.
func (fd *FaultDomain) Empty() bool {
	return fd == nil || len(fd.Domains) == 0
}

// Depth is the number of levels in the path.
func (fd *FaultDomain) Depth() int {
	if fd == nil {
		return 0
	}
	return len(fd.Domains)
}

func (fd *FaultDomain) String() string {
	if fd == nil {
		return NilString
	}
	return Separator + strings.Join(fd.Domains, Separator)
}
