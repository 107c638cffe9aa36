// Package shard implements round-robin assignment of new keys to MEID
// shards.
package shard

import "sync/atomic"

// Selector maintains a monotonic counter modulo a fixed shard count.
type Selector struct {
	count   uint32
	counter atomic.Uint64
}

// NewSelector returns a Selector over count shards (0-indexed). count must
// be >= 1.
func NewSelector(count int) *Selector {
	if count < 1 {
		panic("shard: count must be >= 1")
	}

	return &Selector{count: uint32(count)}
}

// Next advances the counter and returns the next shard index in round-robin
// order. With count == 1, Next always returns 0.
func (s *Selector) Next() int {
	n := s.counter.Add(1) - 1

	return int(n % uint64(s.count))
}

// Count returns the configured shard count.
func (s *Selector) Count() int { return int(s.count) }
