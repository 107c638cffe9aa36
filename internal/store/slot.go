package store

import (
	"sort"
	"sync"

	"github.com/snowflakedb/snowflake/internal/codec"
)

// SlotMeta is the per-live-key bookkeeping record.
type SlotMeta struct {
	Shard    int
	Digest   codec.Digest
	Size     uint32 // value length in bytes
	Position int64  // byte offset in the key file; -1 if not yet persisted
	Length   uint32 // full encoded record length: digest(32) + size(4) + Size
}

// FreeSlot is bookkeeping for space reclaimed from a deleted entry.
type FreeSlot struct {
	Shard    int
	Size     uint32
	Position int64
	Length   uint32
}

// FreeList holds free slots from deletions. Reclamation is only
// exercised by Engine.Compact; ordinary Set/Remove append, never reusing
// a hole.
type FreeList struct {
	mu    sync.Mutex
	slots []FreeSlot
}

// NewFreeList returns an empty free list.
func NewFreeList() *FreeList { return &FreeList{} }

// Push adds a freed slot to the list.
func (fl *FreeList) Push(s FreeSlot) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	fl.slots = append(fl.slots, s)
}

// Len reports the number of free slots currently held.
func (fl *FreeList) Len() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	return len(fl.slots)
}

// BestFit returns the smallest free slot whose Length is >= needed, removing
// it from the list, and true. If no slot is large enough, returns the zero
// value and false.
//
// BestFit sorts by size and binary-searches for the smallest fit.
func (fl *FreeList) BestFit(needed uint32) (FreeSlot, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if len(fl.slots) == 0 {
		return FreeSlot{}, false
	}

	sort.Slice(fl.slots, func(i, j int) bool { return fl.slots[i].Length < fl.slots[j].Length })

	idx := sort.Search(len(fl.slots), func(i int) bool { return fl.slots[i].Length >= needed })
	if idx == len(fl.slots) {
		return FreeSlot{}, false
	}

	best := fl.slots[idx]
	fl.slots = append(fl.slots[:idx], fl.slots[idx+1:]...)

	return best, true
}
