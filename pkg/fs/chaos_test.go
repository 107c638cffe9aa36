package fs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/pkg/fs"
)

func TestChaosPassesThroughWhenUnarmed(t *testing.T) {
	chaos := fs.NewChaos(fs.NewReal())
	path := filepath.Join(t.TempDir(), "plain.txt")

	f, err := chaos.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)

	_, err = f.Write([]byte("ok"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	data, err := chaos.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "ok", string(data))
	require.EqualValues(t, 0, chaos.Injected())
}

func TestChaosConsumesArmedFaultsInOrder(t *testing.T) {
	chaos := fs.NewChaos(fs.NewReal())
	path := filepath.Join(t.TempDir(), "flaky.txt")

	f, err := chaos.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	chaos.FailNextWrites(1)

	_, err = f.Write([]byte("dropped"))
	require.ErrorIs(t, err, fs.ErrInjected)

	_, err = f.Write([]byte("kept"))
	require.NoError(t, err)
	require.EqualValues(t, 1, chaos.Injected())
}

func TestAtomicWriteSyncFailureLeavesTargetIntact(t *testing.T) {
	chaos := fs.NewChaos(fs.NewReal())
	dir := t.TempDir()
	path := filepath.Join(dir, ".lockdown")

	writer := fs.NewAtomicWriter(chaos)
	opts := fs.AtomicWriteOptions{SyncDir: true, Perm: 0o600}

	require.NoError(t, writer.Write(path, strings.NewReader("generation-1"), opts))

	chaos.FailNextSyncs(1)

	err := writer.Write(path, strings.NewReader("generation-2"), opts)
	require.ErrorIs(t, err, fs.ErrInjected)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "generation-1", string(data), "failed replacement must not touch the target")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp file litter after a failed write")
}

func TestAtomicWriteRenameFailureLeavesTargetIntact(t *testing.T) {
	chaos := fs.NewChaos(fs.NewReal())
	dir := t.TempDir()
	path := filepath.Join(dir, "key-0.sfk")

	writer := fs.NewAtomicWriter(chaos)
	opts := fs.AtomicWriteOptions{SyncDir: true, Perm: 0o600}

	require.NoError(t, writer.Write(path, strings.NewReader("old records"), opts))

	chaos.FailNextRenames(1)

	err := writer.Write(path, strings.NewReader("new records"), opts)
	require.ErrorIs(t, err, fs.ErrInjected)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "old records", string(data))
}
