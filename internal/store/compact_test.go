package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/internal/codec"
	"github.com/snowflakedb/snowflake/internal/fileformat"
	"github.com/snowflakedb/snowflake/internal/shard"
	"github.com/snowflakedb/snowflake/internal/store"
	"github.com/snowflakedb/snowflake/pkg/fs"
)

type testShardFiles struct {
	dir string
}

func (t testShardFiles) Count() int { return 1 }

func (t testShardFiles) KeyFilePath(shardIdx int) string {
	return filepath.Join(t.dir, "key-0.sfk")
}

func (t testShardFiles) DataFilePath(shardIdx int) string {
	return filepath.Join(t.dir, "meid-0.sfd")
}

func (t testShardFiles) Signature() [fileformat.SignatureSize]byte {
	return fileformat.Signature("TESTSIG")
}

func (t testShardFiles) Version() uint16 {
	return fileformat.CurrentVersion
}

func (t testShardFiles) Permission() os.FileMode { return 0o600 }

func TestCompact_RewritesShardFilesAndUpdatesPositions(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	e := store.New(shard.NewSelector(1), nil, store.Limits{})

	_, err := e.Set("k1", codec.String("v1"))
	require.NoError(t, err)
	_, err = e.Set("k2", codec.String("v2"))
	require.NoError(t, err)

	_, err = e.Remove("k2")
	require.NoError(t, err)
	require.Equal(t, 1, e.FreeList().Len())

	stats, err := e.Compact(fsys, testShardFiles{dir: dir})
	require.NoError(t, err)
	require.Equal(t, 1, stats.ShardsRewritten)
	require.Equal(t, 1, stats.KeysRewritten)
	require.Equal(t, 0, e.FreeList().Len())

	slot, ok := e.SlotOf("k1")
	require.True(t, ok)
	require.EqualValues(t, fileformat.HeaderSize, slot.Position)

	// The key file holds key bytes, checked against their own digest.
	var keys []string

	kf, err := fsys.Open(filepath.Join(dir, "key-0.sfk"))
	require.NoError(t, err)
	defer kf.Close()

	err = fileformat.ScanRecords(kf, true, func(digest [32]byte, size uint32, payload []byte, position int64) error {
		keys = append(keys, string(payload))

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, keys)

	// The data file holds the encoded values under the same digests.
	var values []string

	df, err := fsys.Open(filepath.Join(dir, "meid-0.sfd"))
	require.NoError(t, err)
	defer df.Close()

	err = fileformat.ScanRecords(df, false, func(digest [32]byte, size uint32, payload []byte, position int64) error {
		require.Equal(t, [32]byte(codec.NewDigest([]byte("k1"))), digest)

		v, err := codec.Decode(payload)
		require.NoError(t, err)

		s, _ := v.AsString()
		values = append(values, s)

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"v1"}, values)
}

func TestCompact_HeaderCarriesShardIdentity(t *testing.T) {
	dir := t.TempDir()
	fsys := fs.NewReal()

	e := store.New(shard.NewSelector(1), nil, store.Limits{})

	_, err := e.Set("k", codec.Int(7))
	require.NoError(t, err)

	_, err = e.Compact(fsys, testShardFiles{dir: dir})
	require.NoError(t, err)

	for _, name := range []string{"key-0.sfk", "meid-0.sfd"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)

		require.NoError(t, fileformat.Validate(data, fileformat.Signature("TESTSIG"), fileformat.CurrentVersion))
	}
}
