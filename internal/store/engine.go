// Package store implements the in-memory lookup tables and the core
// API: set/get/remove/exist, sanitization, and memory-cap enforcement.
package store

import (
	"sync"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/fileformat"
)

// Value is an alias for codec.Value, kept local so callers of this package
// rarely need to import codec directly.
type Value = codec.Value

// AOLEnqueuer is the narrow interface the core API needs from the
// append-only log: a mutation is acknowledged once the op has been
// accepted for queueing, not once it reaches disk. Implemented by
// *aol.AOL.
type AOLEnqueuer interface {
	EnqueueSet(key string, value Value) error
	EnqueueRemove(key string) error
}

// ShardSelector is the narrow interface the core API needs from the
// shard selector. Implemented by *shard.Selector.
type ShardSelector interface {
	Next() int
}

// noopAOL discards every op; used when replay suppresses re-logging,
// since replay is only idempotent if it never re-enqueues.
type noopAOL struct{}

func (noopAOL) EnqueueSet(string, Value) error { return nil }
func (noopAOL) EnqueueRemove(string) error     { return nil }

// Limits bounds a single Set call and the store's total in-memory size.
// Zero disables the corresponding limit.
type Limits struct {
	MaxEntryBytes  int64
	MaxMemoryBytes int64
}

// SetResult is the outcome of a Set call.
type SetResult int

const (
	SetFailed   SetResult = 0
	SetUpdated  SetResult = 1
	SetInserted SetResult = 2
)

// Engine owns the three lookup tables (byKey, byDigest, freeList) and
// implements the core API. All mutations are serialized behind mu; no
// two mutations interleave.
type Engine struct {
	mu sync.Mutex

	byKey    map[string]*SlotMeta
	byDigest map[string]Value // keyed by Digest.Hex()

	freeList *FreeList
	shards   ShardSelector
	aol      AOLEnqueuer
	limits   Limits

	totalBytes int64
}

// New builds an Engine. aol may be nil, in which case mutations are not
// logged until AttachAOL wires a writer in. server.New builds its engine
// this way so that replay is never re-logged, and leaves it without an
// AOL when persistence is disabled.
func New(shards ShardSelector, aolWriter AOLEnqueuer, limits Limits) *Engine {
	if aolWriter == nil {
		aolWriter = noopAOL{}
	}

	return &Engine{
		byKey:    make(map[string]*SlotMeta),
		byDigest: make(map[string]Value),
		freeList: NewFreeList(),
		shards:   shards,
		aol:      aolWriter,
		limits:   limits,
	}
}

// FreeList exposes the engine's free list, e.g. for Engine.Compact or
// diagnostics.
func (e *Engine) FreeList() *FreeList { return e.freeList }

// AttachAOL wires a real AOL writer onto an engine built without one
// (e.g. during startup, where recovery must populate the engine before
// the AOL worker starts, lest replayed mutations get re-logged).
func (e *Engine) AttachAOL(aolWriter AOLEnqueuer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if aolWriter == nil {
		aolWriter = noopAOL{}
	}

	e.aol = aolWriter
}

// Set sanitizes key, enforces size/memory limits, updates the lookup
// tables, and enqueues an AOL "set" op. It returns SetFailed without
// mutating any state if sanitization produces an empty key, the encoded
// value exceeds the per-entry limit, or applying it would exceed the
// memory cap.
func (e *Engine) Set(key string, value Value) (SetResult, error) {
	key = SanitizeKey(key, false)
	if key == "" {
		return SetFailed, nil
	}

	return e.setSanitized(key, value, true)
}

// SetUnsafe applies a set without enqueueing an AOL op, for use by the
// recovery engine during replay. Sanitization still runs; only the
// re-logging is suppressed.
func (e *Engine) SetUnsafe(key string, value Value) (SetResult, error) {
	key = SanitizeKey(key, false)
	if key == "" {
		return SetFailed, nil
	}

	return e.setSanitized(key, value, false)
}

func (e *Engine) setSanitized(key string, value Value, logToAOL bool) (SetResult, error) {
	encoded, err := codec.Encode(value)
	if err != nil {
		return SetFailed, err
	}

	size := int64(len(encoded))
	if e.limits.MaxEntryBytes > 0 && size > e.limits.MaxEntryBytes {
		return SetFailed, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, isUpdate := e.byKey[key]

	var delta int64
	if isUpdate {
		delta = size - int64(existing.Size)
	} else {
		delta = size
	}

	if e.limits.MaxMemoryBytes > 0 && e.totalBytes+delta > e.limits.MaxMemoryBytes {
		return SetFailed, nil
	}

	var digest codec.Digest

	if isUpdate {
		digest = existing.Digest
		existing.Size = uint32(size)
		existing.Length = fileformat.RecordLength(uint32(size))
	} else {
		digest = codec.NewDigest([]byte(key))
		e.byKey[key] = &SlotMeta{
			Shard:    e.shards.Next(),
			Digest:   digest,
			Size:     uint32(size),
			Position: -1,
			Length:   fileformat.RecordLength(uint32(size)),
		}
	}

	e.byDigest[digest.Hex()] = value
	e.totalBytes += delta

	if logToAOL {
		err := e.aol.EnqueueSet(key, value)
		if err != nil {
			return SetFailed, err
		}
	}

	if isUpdate {
		return SetUpdated, nil
	}

	return SetInserted, nil
}

// Get returns the value for key, or def if the key is not live. Lookups
// use the slot's cached digest, never recomputing SHA-256 on the read
// path.
func (e *Engine) Get(key string, def Value) Value {
	key = SanitizeKey(key, false)

	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.byKey[key]
	if !ok {
		return def
	}

	return e.byDigest[slot.Digest.Hex()]
}

// Exist reports whether key is currently live.
func (e *Engine) Exist(key string) bool {
	key = SanitizeKey(key, false)

	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.byKey[key]

	return ok
}

// Remove deletes key if present, pushing its slot onto the free list and
// enqueueing an AOL "remove" op. Returns false if the key was not live.
// The enqueue happens under the same lock as the table mutation so AOL
// order always matches table order.
func (e *Engine) Remove(key string) (bool, error) {
	key = SanitizeKey(key, false)

	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.byKey[key]
	if !ok {
		return false, nil
	}

	e.freeList.Push(FreeSlot{Shard: slot.Shard, Size: slot.Size, Position: slot.Position, Length: slot.Length})
	delete(e.byKey, key)
	delete(e.byDigest, slot.Digest.Hex())
	e.totalBytes -= int64(slot.Size)

	err := e.aol.EnqueueRemove(key)
	if err != nil {
		return true, err
	}

	return true, nil
}

// RemoveUnsafe deletes key without enqueueing an AOL op, for recovery
// replay.
func (e *Engine) RemoveUnsafe(key string) (bool, error) {
	key = SanitizeKey(key, false)

	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.byKey[key]
	if !ok {
		return false, nil
	}

	e.freeList.Push(FreeSlot{Shard: slot.Shard, Size: slot.Size, Position: slot.Position, Length: slot.Length})
	delete(e.byKey, key)
	delete(e.byDigest, slot.Digest.Hex())
	e.totalBytes -= int64(slot.Size)

	return true, nil
}

// Stats is a snapshot of ambient engine metrics, used by the `info`
// command's `memory`/`keys` filters.
type Stats struct {
	LiveKeys    int
	TotalBytes  int64
	FreeSlots   int
	MemoryLimit int64
}

// Stats returns a point-in-time snapshot of engine metrics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		LiveKeys:    len(e.byKey),
		TotalBytes:  e.totalBytes,
		FreeSlots:   e.freeList.Len(),
		MemoryLimit: e.limits.MaxMemoryBytes,
	}
}

// SlotOf returns a copy of key's slot metadata, for diagnostics/compaction.
func (e *Engine) SlotOf(key string) (SlotMeta, bool) {
	key = SanitizeKey(key, false)

	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.byKey[key]
	if !ok {
		return SlotMeta{}, false
	}

	return *slot, true
}

// ForEachLive calls fn once per live key (in unspecified order) with its
// current value and slot metadata. fn must not call back into the Engine.
func (e *Engine) ForEachLive(fn func(key string, value Value, slot SlotMeta)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, slot := range e.byKey {
		fn(key, e.byDigest[slot.Digest.Hex()], *slot)
	}
}

// UpdatePosition records a slot's on-disk position/length after a
// compaction write.
func (e *Engine) UpdatePosition(key string, position int64, length uint32) {
	key = SanitizeKey(key, false)

	e.mu.Lock()
	defer e.mu.Unlock()

	if slot, ok := e.byKey[key]; ok {
		slot.Position = position
		slot.Length = length
	}
}
