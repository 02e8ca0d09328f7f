package domain

import (
	"fmt"
	"strconv"
	"strings"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// GroupsMax asks the layout builder for as many redundancy groups as the
// pool can hold.
const GroupsMax = -1

// Bounds on object classes. A layout never holds more than MaxLayoutShards
// assignments.
const (
	MaxGroupWidth   = 1024
	MaxGroups       = 1024
	MaxLayoutShards = 1 << 16
)

// Redundancy describes how many shards an object needs and how they are
// grouped. Exactly one of Replicas or DataShards is set.
type Redundancy struct {
	Replicas     int
	DataShards   int
	ParityShards int
	// Groups is the number of redundancy groups; zero means one group and
	// GroupsMax means as many as the pool can hold.
	Groups int
}

// Replicated returns a single-group redundancy with n replicas.
func Replicated(n int) Redundancy {
	return Redundancy{Replicas: n, Groups: 1}
}

// ErasureCoded returns a single-group k+p erasure redundancy.
func ErasureCoded(k, p int) Redundancy {
	return Redundancy{DataShards: k, ParityShards: p, Groups: 1}
}

// IsErasure reports whether the redundancy uses erasure coding.
func (r Redundancy) IsErasure() bool {
	return r.DataShards > 0
}

// Width is the number of shards in one redundancy group.
func (r Redundancy) Width() int {
	if r.IsErasure() {
		return r.DataShards + r.ParityShards
	}
	return r.Replicas
}

// GroupCount returns the requested group count with zero normalized to one.
// GroupsMax is returned unchanged.
func (r Redundancy) GroupCount() int {
	if r.Groups == 0 {
		return 1
	}
	return r.Groups
}

// Validate checks that the redundancy describes at least one shard and stays
// within the class bounds.
func (r Redundancy) Validate() error {
	switch {
	case r.Replicas < 0 || r.DataShards < 0 || r.ParityShards < 0:
		return fmt.Errorf("%w: negative shard count in %s", zerrors.ErrInvalidObjectClass, r)
	case r.Replicas > MaxGroupWidth || r.DataShards > MaxGroupWidth || r.ParityShards > MaxGroupWidth:
		return fmt.Errorf("%w: more than %d shards per group", zerrors.ErrInvalidObjectClass, MaxGroupWidth)
	case r.IsErasure() && r.Replicas > 0:
		return fmt.Errorf("%w: %s mixes replication and erasure coding", zerrors.ErrInvalidObjectClass, r)
	case r.Width() == 0:
		return fmt.Errorf("%w: %s has no shards", zerrors.ErrInvalidObjectClass, r)
	case r.Width() > MaxGroupWidth:
		return fmt.Errorf("%w: %s has more than %d shards per group", zerrors.ErrInvalidObjectClass, r, MaxGroupWidth)
	case r.Groups < GroupsMax || r.Groups > MaxGroups:
		return fmt.Errorf("%w: group count %d", zerrors.ErrInvalidObjectClass, r.Groups)
	case r.GroupCount() != GroupsMax && r.Width()*r.GroupCount() > MaxLayoutShards:
		return fmt.Errorf("%w: %s places more than %d shards", zerrors.ErrInvalidObjectClass, r, MaxLayoutShards)
	}
	return nil
}

// String renders the redundancy as an object class name.
func (r Redundancy) String() string {
	var b strings.Builder
	switch {
	case r.IsErasure():
		fmt.Fprintf(&b, "EC_%dP%d", r.DataShards, r.ParityShards)
	case r.Replicas == 1:
		b.WriteString("S1")
	default:
		fmt.Fprintf(&b, "RP_%d", r.Replicas)
	}
	switch g := r.GroupCount(); {
	case g == GroupsMax:
		b.WriteString("GX")
	case g > 1:
		fmt.Fprintf(&b, "G%d", g)
	}
	return b.String()
}

// ParseObjectClass parses class names such as "S1", "RP_3", "RP_2G4",
// "EC_4P2" or "EC_8P2GX".
func ParseObjectClass(name string) (Redundancy, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	s = strings.TrimPrefix(s, "OC_")

	var (
		r    Redundancy
		body string
	)

	groups := 1
	if i := strings.LastIndexByte(s, 'G'); i > 0 {
		g := s[i+1:]
		switch {
		case g == "X":
			groups = GroupsMax
		default:
			n, err := strconv.Atoi(g)
			if err != nil || n <= 0 {
				return Redundancy{}, classError(name, "invalid group count")
			}
			groups = n
		}
		s = s[:i]
	}

	switch {
	case s == "S1":
		r.Replicas = 1
	case strings.HasPrefix(s, "RP_"):
		body = strings.TrimPrefix(s, "RP_")
		n, err := strconv.Atoi(body)
		if err != nil || n <= 0 {
			return Redundancy{}, classError(name, "invalid replica count")
		}
		r.Replicas = n
	case strings.HasPrefix(s, "EC_"):
		body = strings.TrimPrefix(s, "EC_")
		kStr, pStr, ok := strings.Cut(body, "P")
		if !ok {
			return Redundancy{}, classError(name, "missing parity count")
		}
		k, err := strconv.Atoi(kStr)
		if err != nil || k <= 0 {
			return Redundancy{}, classError(name, "invalid data shard count")
		}
		p, err := strconv.Atoi(pStr)
		if err != nil || p < 0 {
			return Redundancy{}, classError(name, "invalid parity shard count")
		}
		r.DataShards, r.ParityShards = k, p
	default:
		return Redundancy{}, classError(name, "unknown class")
	}

	r.Groups = groups
	if err := r.Validate(); err != nil {
		return Redundancy{}, fmt.Errorf("class %q: %w", name, err)
	}
	return r, nil
}

func classError(name, reason string) error {
	return fmt.Errorf("%w %q: %s", zerrors.ErrInvalidObjectClass, name, reason)
}
