package fileformat_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/internal/fileformat"
	"github.com/snowflakedb/snowflake/pkg/fs"
)

func TestHeader_EncodeDecodeRoundTrip(t *testing.T) {
	h := fileformat.Header{
		Version:   fileformat.CurrentVersion,
		Signature: fileformat.Signature("SNOWFLAK"),
		Timestamp: 1700000000,
	}

	buf := fileformat.Encode(h)
	require.Len(t, buf, fileformat.HeaderSize)

	got, err := fileformat.Decode(buf[:])
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestValidate_MatchesIdentityBytesOnly(t *testing.T) {
	sig := fileformat.Signature("SNOWFLAK")
	h := fileformat.Header{Version: 1, Signature: sig, Timestamp: 123}
	buf := fileformat.Encode(h)

	require.NoError(t, fileformat.Validate(buf[:], sig, 1))

	h2 := fileformat.Header{Version: 1, Signature: sig, Timestamp: 999999}
	buf2 := fileformat.Encode(h2)
	require.NoError(t, fileformat.Validate(buf2[:], sig, 1), "timestamp must not affect validation")
}

func TestValidate_RejectsMismatch(t *testing.T) {
	sig := fileformat.Signature("SNOWFLAK")
	buf := fileformat.Encode(fileformat.Header{Version: 1, Signature: sig})

	err := fileformat.Validate(buf[:], sig, 2)
	require.ErrorIs(t, err, fileformat.ErrIncompatible)

	err = fileformat.Validate(buf[:], fileformat.Signature("OTHERSIG"), 1)
	require.ErrorIs(t, err, fileformat.ErrIncompatible)
}

func TestOpenOrCreate_CreatesFreshHeader(t *testing.T) {
	real := fs.NewReal()
	path := filepath.Join(t.TempDir(), "meid-0.sfd")
	sig := fileformat.Signature("SNOWFLAK")

	res, err := fileformat.OpenOrCreate(real, path, sig, fileformat.CurrentVersion, 0o644)
	require.NoError(t, err)
	defer res.File.Close()

	require.True(t, res.Created)
	require.Equal(t, sig, res.Header.Signature)
	require.Equal(t, fileformat.CurrentVersion, res.Header.Version)

	res2, err := fileformat.OpenOrCreate(real, path, sig, fileformat.CurrentVersion, 0o644)
	require.NoError(t, err)
	defer res2.File.Close()
	require.False(t, res2.Created)
	require.Equal(t, res.Header, res2.Header)
}

func TestAppendAndScanRecords(t *testing.T) {
	real := fs.NewReal()
	path := filepath.Join(t.TempDir(), "key-0.sfk")
	sig := fileformat.Signature("SNOWFLAK")

	res, err := fileformat.OpenOrCreate(real, path, sig, fileformat.CurrentVersion, 0o644)
	require.NoError(t, err)
	defer res.File.Close()

	type rec struct {
		digest  [32]byte
		payload []byte
	}

	keys := []string{"alpha", "beta", "gamma"}
	var written []rec

	for _, k := range keys {
		d := sha256Of(k)
		_, err := fileformat.AppendRecord(res.File, d, []byte(k))
		require.NoError(t, err)
		written = append(written, rec{digest: d, payload: []byte(k)})
	}

	var got []rec

	err = fileformat.ScanRecords(res.File, true, func(digest [32]byte, size uint32, payload []byte, position int64) error {
		require.EqualValues(t, len(payload), size)
		got = append(got, rec{digest: digest, payload: payload})

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, written, got)
}

func TestScanRecords_CorruptTruncated(t *testing.T) {
	real := fs.NewReal()
	path := filepath.Join(t.TempDir(), "key-0.sfk")
	sig := fileformat.Signature("SNOWFLAK")

	res, err := fileformat.OpenOrCreate(real, path, sig, fileformat.CurrentVersion, 0o644)
	require.NoError(t, err)

	_, err = fileformat.AppendRecord(res.File, sha256Of("full"), []byte("full record"))
	require.NoError(t, err)
	require.NoError(t, res.File.Close())

	// Truncate the file mid-record to simulate a crash during append.
	info, err := real.Stat(path)
	require.NoError(t, err)
	require.NoError(t, truncate(path, info.Size()-3))

	f, err := real.OpenFile(path, osRDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	err = fileformat.ScanRecords(f, true, func([32]byte, uint32, []byte, int64) error { return nil })
	require.ErrorIs(t, err, fileformat.ErrCorrupt)
}

func TestScanRecords_DigestMismatch(t *testing.T) {
	real := fs.NewReal()
	path := filepath.Join(t.TempDir(), "key-0.sfk")
	sig := fileformat.Signature("SNOWFLAK")

	res, err := fileformat.OpenOrCreate(real, path, sig, fileformat.CurrentVersion, 0o644)
	require.NoError(t, err)
	defer res.File.Close()

	var badDigest [32]byte
	_, err = fileformat.AppendRecord(res.File, badDigest, []byte("mismatched"))
	require.NoError(t, err)

	err = fileformat.ScanRecords(res.File, true, func([32]byte, uint32, []byte, int64) error { return nil })
	require.ErrorIs(t, err, fileformat.ErrCorrupt)
}
