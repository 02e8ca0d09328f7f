package service

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/reedsolomon"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// shardHeaderSize prefixes every stored shard: the byte length of the group
// chunk followed by the XXH64 digest of the shard payload.
const shardHeaderSize = 16

// EncodeGroup turns one group's chunk into the shard payloads for red, in
// shard order. Replicated groups get identical copies.
func EncodeGroup(red domain.Redundancy, chunk []byte) ([][]byte, error) {
	if !red.IsErasure() {
		shards := make([][]byte, red.Replicas)
		for i := range shards {
			shards[i] = chunk
		}
		return shards, nil
	}

	enc, err := reedsolomon.New(red.DataShards, red.ParityShards)
	if err != nil {
		return nil, err
	}

	data := chunk
	if len(data) == 0 {
		// Split rejects empty input; the header size keeps the padding out.
		data = []byte{0}
	}
	shards, err := enc.Split(bytes.Clone(data))
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// DecodeGroup rebuilds a chunk of size bytes from the shards that could be
// read. Missing shards are nil.
func DecodeGroup(red domain.Redundancy, shards [][]byte, size int) ([]byte, error) {
	if !red.IsErasure() {
		for _, s := range shards {
			if s != nil && len(s) >= size {
				return s[:size], nil
			}
		}
		return nil, fmt.Errorf("%w: no replica readable", zerrors.ErrInsufficientShards)
	}

	if present(shards) < red.DataShards {
		return nil, fmt.Errorf("%w: have %d of %d data shards", zerrors.ErrInsufficientShards, present(shards), red.DataShards)
	}

	enc, err := reedsolomon.New(red.DataShards, red.ParityShards)
	if err != nil {
		return nil, err
	}
	if err := enc.ReconstructData(shards); err != nil {
		return nil, fmt.Errorf("%w: %v", zerrors.ErrInsufficientShards, err)
	}

	var buf bytes.Buffer
	if err := enc.Join(&buf, shards, size); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReconstructGroup fills in every missing shard, parity included.
func ReconstructGroup(red domain.Redundancy, shards [][]byte) error {
	if !red.IsErasure() {
		var src []byte
		for _, s := range shards {
			if s != nil {
				src = s
				break
			}
		}
		if src == nil {
			return fmt.Errorf("%w: no replica readable", zerrors.ErrInsufficientShards)
		}
		for i := range shards {
			if shards[i] == nil {
				shards[i] = src
			}
		}
		return nil
	}

	enc, err := reedsolomon.New(red.DataShards, red.ParityShards)
	if err != nil {
		return err
	}
	if err := enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("%w: %v", zerrors.ErrInsufficientShards, err)
	}
	return nil
}

// MinShards is the number of shards of one group needed to read it back.
func MinShards(red domain.Redundancy) int {
	if red.IsErasure() {
		return red.DataShards
	}
	return 1
}

func present(shards [][]byte) int {
	n := 0
	for _, s := range shards {
		if s != nil {
			n++
		}
	}
	return n
}

func marshalShard(size int, payload []byte) []byte {
	out := make([]byte, shardHeaderSize+len(payload))
	binary.BigEndian.PutUint64(out[0:8], uint64(size))
	binary.BigEndian.PutUint64(out[8:16], xxhash.Sum64(payload))
	copy(out[shardHeaderSize:], payload)
	return out
}

func unmarshalShard(raw []byte) (int, []byte, error) {
	if len(raw) < shardHeaderSize {
		return 0, nil, fmt.Errorf("shard too short: %d bytes", len(raw))
	}
	size := binary.BigEndian.Uint64(raw[0:8])
	sum := binary.BigEndian.Uint64(raw[8:16])
	payload := raw[shardHeaderSize:]
	if got := xxhash.Sum64(payload); got != sum {
		return 0, nil, fmt.Errorf("shard checksum mismatch: %016x != %016x", got, sum)
	}
	return int(size), payload, nil
}
