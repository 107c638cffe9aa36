package fs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/pkg/fs"
)

func TestAtomicWriteVisibleAfterWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "meid-0.sfd")

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.Write(path, strings.NewReader("records"), fs.AtomicWriteOptions{SyncDir: true, Perm: 0o600})
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "records", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file")
}

func TestAtomicWriteReplacesExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "key-0.sfk")
	writer := fs.NewAtomicWriter(fs.NewReal())
	opts := fs.AtomicWriteOptions{SyncDir: true, Perm: 0o600}

	require.NoError(t, writer.Write(path, strings.NewReader("first"), opts))
	require.NoError(t, writer.Write(path, strings.NewReader("second"), opts))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestAtomicWriteRejectsZeroPerm(t *testing.T) {
	t.Parallel()

	writer := fs.NewAtomicWriter(fs.NewReal())

	err := writer.Write(filepath.Join(t.TempDir(), "f"), strings.NewReader("x"), fs.AtomicWriteOptions{})
	require.Error(t, err)
}
