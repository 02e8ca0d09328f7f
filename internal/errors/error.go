package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTopology     = errors.New("invalid topology")
	ErrStaleVersion        = errors.New("stale cluster map version")
	ErrInsufficientTargets = errors.New("insufficient targets for placement")
	ErrPoolNotFound        = errors.New("pool not found")
	ErrPoolExists          = errors.New("pool already exists")
	ErrMapReleased         = errors.New("placement map already released")
	ErrInvalidObjectClass  = errors.New("invalid object class")
	ErrInvalidObjectID     = errors.New("invalid object id")
	ErrInsufficientShards  = errors.New("insufficient shards available for reconstruction")
	ErrShardNotFound       = errors.New("shard not found on target")
)

// TopologyError reports why a fault-domain description was rejected.
type TopologyError struct {
	Reason string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidTopology, e.Reason)
}

func (e *TopologyError) Unwrap() error {
	return ErrInvalidTopology
}

// InvalidTopology builds a TopologyError from a format string.
func InvalidTopology(format string, args ...any) error {
	return &TopologyError{Reason: fmt.Sprintf(format, args...)}
}

// StaleVersionError is returned when a snapshot does not advance the version.
type StaleVersionError struct {
	Pool     string
	Current  uint64
	Proposed uint64
}

func (e *StaleVersionError) Error() string {
	if e.Pool == "" {
		return fmt.Sprintf("%s: proposed %d, current %d", ErrStaleVersion, e.Proposed, e.Current)
	}
	return fmt.Sprintf("%s: pool %s proposed %d, current %d", ErrStaleVersion, e.Pool, e.Proposed, e.Current)
}

func (e *StaleVersionError) Unwrap() error {
	return ErrStaleVersion
}

// InsufficientTargetsError accompanies a partial layout. Placed shards are
// still usable; callers decide whether a degraded layout is acceptable.
type InsufficientTargetsError struct {
	Requested int
	Placed    int
}

func (e *InsufficientTargetsError) Error() string {
	return fmt.Sprintf("%s: placed %d of %d shards", ErrInsufficientTargets, e.Placed, e.Requested)
}

func (e *InsufficientTargetsError) Unwrap() error {
	return ErrInsufficientTargets
}

// Degraded reports whether at least one shard was placed.
func (e *InsufficientTargetsError) Degraded() bool {
	return e.Placed > 0
}

// Fatal reports whether no eligible target remained at all.
func (e *InsufficientTargetsError) Fatal() bool {
	return e.Placed == 0
}

// IsDegraded reports whether err describes a usable partial placement.
func IsDegraded(err error) bool {
	var ite *InsufficientTargetsError
	return errors.As(err, &ite) && ite.Degraded()
}

// PoolNotFoundError names the pool a lookup failed for.
func PoolNotFoundError(pool string) error {
	return fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
}

// FetchingResourceError generates a formatted error for failed fetching of any resource by its type.
func FetchingResourceError(resource string) error {
	return fmt.Errorf("failed to fetch %s by id", resource)
}

func ConfigNotSetError(config string) error {
	return fmt.Errorf("the %s configuration value must be set", config)
}
