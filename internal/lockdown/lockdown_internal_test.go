package lockdown

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/internal/config"
)

func TestIsLockedDown_AfterMaxAttempts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lockdown")

	cur := time.Unix(1000, 0)
	tr := New(path, config.LockdownIP, 2, 60*time.Second)
	tr.now = func() time.Time { return cur }

	require.False(t, tr.IsLockedDown("1.2.3.4"))

	require.NoError(t, tr.RecordFailure("1.2.3.4"))
	require.False(t, tr.IsLockedDown("1.2.3.4"))

	require.NoError(t, tr.RecordFailure("1.2.3.4"))
	require.True(t, tr.IsLockedDown("1.2.3.4"))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestIsLockedDown_ExpiresAfterCooldown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lockdown")

	cur := time.Unix(1000, 0)
	tr := New(path, config.LockdownIP, 1, 60*time.Second)
	tr.now = func() time.Time { return cur }

	require.NoError(t, tr.RecordFailure("1.2.3.4"))
	require.True(t, tr.IsLockedDown("1.2.3.4"))

	_, err := os.Stat(path)
	require.NoError(t, err)

	cur = cur.Add(61 * time.Second)
	require.False(t, tr.IsLockedDown("1.2.3.4"))

	// Natural expiry prunes the entry; with nothing locked, the sidecar
	// is removed, not left stale.
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestRecordFailurePrunesExpiredEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lockdown")

	cur := time.Unix(1000, 0)
	tr := New(path, config.LockdownIP, 1, 60*time.Second)
	tr.now = func() time.Time { return cur }

	require.NoError(t, tr.RecordFailure("1.1.1.1"))

	cur = cur.Add(61 * time.Second)
	require.NoError(t, tr.RecordFailure("2.2.2.2"))

	tr.mu.Lock()
	_, stale := tr.subjects["1.1.1.1"]
	tr.mu.Unlock()

	require.False(t, stale, "an expired entry must not outlive the next rewrite")
	require.True(t, tr.IsLockedDown("2.2.2.2"))
}

func TestDisabledModeNeverLocksDown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lockdown")

	tr := New(path, config.LockdownNone, 1, 60*time.Second)

	require.NoError(t, tr.RecordFailure("x"))
	require.False(t, tr.IsLockedDown("x"))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestReset_RemovesFileWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lockdown")

	tr := New(path, config.LockdownToken, 1, 60*time.Second)

	require.NoError(t, tr.RecordFailure("tok1"))

	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, tr.Reset("tok1"))

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lockdown")

	tr := New(path, config.LockdownIP, 1, 60*time.Second)
	require.NoError(t, tr.RecordFailure("1.2.3.4"))

	tr2 := New(path, config.LockdownIP, 1, 60*time.Second)
	require.NoError(t, tr2.Load())
	require.True(t, tr2.IsLockedDown("1.2.3.4"))
}
