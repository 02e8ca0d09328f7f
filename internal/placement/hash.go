package placement

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/zzenonn/zplace/internal/domain"
)

// Every node must derive identical layouts, so the functions in this file are
// part of the on-the-wire contract: changing any constant changes where every
// object lives.
//
//	Mix64(x)      SplitMix64 finalizer:
//	              x ^= x >> 30; x *= 0xbf58476d1ce4e5b9
//	              x ^= x >> 27; x *= 0x94d049bb133111eb
//	              x ^= x >> 31
//	Combine(a, b) Mix64(a ^ (b + 0x9e3779b97f4a7c15 + (a << 6) + (a >> 2)))
//	sequence      SplitMix64: state += 0x9e3779b97f4a7c15; return Mix64(state)
//	object key    Combine(oid.Hi, oid.Lo)
//	group seed    Combine(Combine(object key, generation), group)
//	ring token    XXH64, seed 0, of uint32le(target id) || uint32le(salt)
//
// All arithmetic is modulo 2^64.

const goldenGamma uint64 = 0x9e3779b97f4a7c15

// Mix64 is the SplitMix64 finalizer, a bijective 64-bit avalanche mix.
func Mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Combine mixes b into a. For a fixed a it is injective in b.
func Combine(a, b uint64) uint64 {
	return Mix64(a ^ (b + goldenGamma + (a << 6) + (a >> 2)))
}

// ObjectKey folds a 128-bit object id into 64 bits.
func ObjectKey(oid domain.ObjectID) uint64 {
	return Combine(oid.Hi, oid.Lo)
}

// GroupSeed derives the seed of one redundancy group. Different groups of the
// same object never share a seed.
func GroupSeed(oid domain.ObjectID, generation uint64, group int) uint64 {
	return Combine(Combine(ObjectKey(oid), generation), uint64(group))
}

// RingToken is the position of one virtual node of a target on the ring.
func RingToken(id domain.TargetID, salt uint32) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(id))
	binary.LittleEndian.PutUint32(buf[4:], salt)
	return xxhash.Sum64(buf[:])
}

// sequence is a SplitMix64 generator.
type sequence struct {
	state uint64
}

func newSequence(seed uint64) sequence {
	return sequence{state: seed}
}

func (s *sequence) next() uint64 {
	s.state += goldenGamma
	return Mix64(s.state)
}

// pick returns an index in [0, n) drawn from the sequence.
func (s *sequence) pick(n int) int {
	return int(s.next() % uint64(n))
}
