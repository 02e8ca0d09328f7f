package domain

import (
	"fmt"
	"strings"
)

// Status is the availability state of a rank or target.
type Status uint8

const (
	// StatusUp targets serve reads and writes and receive new shards.
	StatusUp Status = iota
	// StatusDraining targets still serve data but are being evacuated.
	StatusDraining
	// StatusDown targets are unavailable; their shards are rebuilt elsewhere.
	StatusDown
	// StatusDownOut targets are permanently excluded from the pool.
	StatusDownOut
)

var statusNames = map[Status]string{
	StatusUp:       "up",
	StatusDraining: "draining",
	StatusDown:     "down",
	StatusDownOut:  "downout",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Available reports whether a target in this state may hold a shard.
func (s Status) Available() bool {
	return s == StatusUp || s == StatusDraining
}

// ParseStatus converts a textual status. The empty string means StatusUp.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "up":
		return StatusUp, nil
	case "draining", "drain":
		return StatusDraining, nil
	case "down":
		return StatusDown, nil
	case "downout", "down_out":
		return StatusDownOut, nil
	}
	return StatusUp, fmt.Errorf("unknown status %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	st, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
