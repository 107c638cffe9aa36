package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/shard"
	"github.com/snowflakedb/snowflake/internal/store"
)

type recordingAOL struct {
	sets    map[string]store.Value
	removes []string
}

func newRecordingAOL() *recordingAOL {
	return &recordingAOL{sets: make(map[string]store.Value)}
}

func (r *recordingAOL) EnqueueSet(key string, value store.Value) error {
	r.sets[key] = value

	return nil
}

func (r *recordingAOL) EnqueueRemove(key string) error {
	r.removes = append(r.removes, key)

	return nil
}

func TestSetGetRemove(t *testing.T) {
	aol := newRecordingAOL()
	e := store.New(shard.NewSelector(2), aol, store.Limits{})

	res, err := e.Set("k1", codec.String("v1"))
	require.NoError(t, err)
	require.Equal(t, store.SetInserted, res)

	got := e.Get("k1", codec.String("missing"))
	s, _ := got.AsString()
	require.Equal(t, "v1", s)

	res, err = e.Set("k1", codec.String("v2"))
	require.NoError(t, err)
	require.Equal(t, store.SetUpdated, res)

	got = e.Get("k1", codec.Nil())
	s, _ = got.AsString()
	require.Equal(t, "v2", s)

	ok, err := e.Remove("k1")
	require.NoError(t, err)
	require.True(t, ok)

	def := codec.String("default")
	got = e.Get("k1", def)
	s, _ = got.AsString()
	require.Equal(t, "default", s)
	require.False(t, e.Exist("k1"))

	ok, err = e.Remove("k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSet_EmptyKeyFails(t *testing.T) {
	e := store.New(shard.NewSelector(1), nil, store.Limits{})

	res, err := e.Set("   ", codec.String("v"))
	require.NoError(t, err)
	require.Equal(t, store.SetFailed, res)
}

func TestSet_EntrySizeCapEnforced(t *testing.T) {
	e := store.New(shard.NewSelector(1), nil, store.Limits{MaxEntryBytes: 4})

	res, err := e.Set("k", codec.String("this is way too long"))
	require.NoError(t, err)
	require.Equal(t, store.SetFailed, res)
	require.False(t, e.Exist("k"))
}

func TestSet_MemoryCapEnforcedWithoutPartialState(t *testing.T) {
	e := store.New(shard.NewSelector(1), nil, store.Limits{MaxMemoryBytes: 10})

	res, err := e.Set("k1", codec.String("aa"))
	require.NoError(t, err)
	require.Equal(t, store.SetInserted, res)

	res, err = e.Set("k2", codec.String("way too long for the remaining budget"))
	require.NoError(t, err)
	require.Equal(t, store.SetFailed, res)
	require.False(t, e.Exist("k2"))
}

func TestRoundRobinShardAssignment(t *testing.T) {
	const n = 4

	e := store.New(shard.NewSelector(n), nil, store.Limits{})
	shards := make(map[int]bool)

	for i := 0; i < n; i++ {
		key := string(rune('a' + i))

		_, err := e.Set(key, codec.Int(int64(i)))
		require.NoError(t, err)

		slot, ok := e.SlotOf(key)
		require.True(t, ok)
		shards[slot.Shard] = true
	}

	require.Len(t, shards, n)
}

func TestAOLEnqueuedOnSetAndRemove(t *testing.T) {
	aol := newRecordingAOL()
	e := store.New(shard.NewSelector(1), aol, store.Limits{})

	_, err := e.Set("k", codec.String("v"))
	require.NoError(t, err)
	require.Contains(t, aol.sets, "k")

	_, err = e.Remove("k")
	require.NoError(t, err)
	require.Contains(t, aol.removes, "k")
}

func TestSetUnsafe_DoesNotEnqueue(t *testing.T) {
	aol := newRecordingAOL()
	e := store.New(shard.NewSelector(1), aol, store.Limits{})

	_, err := e.SetUnsafe("k", codec.String("v"))
	require.NoError(t, err)
	require.Empty(t, aol.sets)
	require.True(t, e.Exist("k"))
}

func TestSanitizeKey_IdempotentAndCharset(t *testing.T) {
	inputs := []string{"hello world", "a!@#b", "__leading_trailing__", ""}

	for _, in := range inputs {
		once := store.SanitizeKey(in, false)
		twice := store.SanitizeKey(once, false)
		require.Equal(t, once, twice)

		for _, r := range once {
			ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
			require.True(t, ok, "char %q not in [A-Za-z0-9_-]", r)
		}
	}

	trimmed := store.SanitizeKey("__hi__", true)
	require.Equal(t, "hi", trimmed)
}

func TestFreeList_BestFit(t *testing.T) {
	fl := store.NewFreeList()
	fl.Push(store.FreeSlot{Length: 100})
	fl.Push(store.FreeSlot{Length: 10})
	fl.Push(store.FreeSlot{Length: 50})

	best, ok := fl.BestFit(20)
	require.True(t, ok)
	require.EqualValues(t, 50, best.Length)
	require.Equal(t, 2, fl.Len())

	_, ok = fl.BestFit(1000)
	require.False(t, ok)
}
