// Package server wires together the engine, AOL, recovery, lockdown, and
// shard files into a running instance, and hosts the shard bootstrap:
// shard files missing at startup are created empty with a fresh header,
// pre-existing ones have their headers validated.
package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/snowflakedb/snowflake/internal/clog"
	"github.com/snowflakedb/snowflake/internal/fileformat"
	"github.com/snowflakedb/snowflake/pkg/fs"
)

// ShardHandles is one shard's open data and key files.
type ShardHandles struct {
	Index    int
	DataFile fs.File
	KeyFile  fs.File
	Faint    bool // true if this header-only shard's header mismatched; nothing else reads it
}

// Shards owns every configured shard's on-disk files plus the
// signature/version identity new and existing files are checked against.
type Shards struct {
	dir       string
	signature [fileformat.SignatureSize]byte
	version   uint16
	perm      os.FileMode

	handles []ShardHandles
}

// Bootstrap opens or creates meid-<i>.sfd / key-<i>.sfk for every shard
// 0..count-1. A pre-existing file whose header doesn't match
// signature/version aborts startup when the file already holds records;
// a header-only mismatched file is kept with a warning and marked faint.
// A faint shard stays in the shard set: it is still counted, still
// receives new keys, and is still rewritten by compaction.
func Bootstrap(fsys fs.FS, dir string, count int, signature [fileformat.SignatureSize]byte, version uint16, perm os.FileMode, logger *clog.Logger) (*Shards, error) {
	err := fsys.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("server: create database dir %q: %w", dir, err)
	}

	s := &Shards{dir: dir, signature: signature, version: version, perm: perm}

	for i := 0; i < count; i++ {
		handles, err := openShard(fsys, dir, i, signature, version, perm, logger)
		if err != nil {
			return nil, err
		}

		s.handles = append(s.handles, handles)
	}

	return s, nil
}

func openShard(fsys fs.FS, dir string, index int, signature [fileformat.SignatureSize]byte, version uint16, perm os.FileMode, logger *clog.Logger) (ShardHandles, error) {
	dataPath := DataFilePath(dir, index)
	keyPath := KeyFilePath(dir, index)

	dataResult, err := fileformat.OpenOrCreate(fsys, dataPath, signature, version, perm)
	if err != nil {
		return ShardHandles{}, fmt.Errorf("server: open data file %q: %w", dataPath, err)
	}

	keyResult, err := fileformat.OpenOrCreate(fsys, keyPath, signature, version, perm)
	if err != nil {
		_ = dataResult.File.Close()

		return ShardHandles{}, fmt.Errorf("server: open key file %q: %w", keyPath, err)
	}

	faint := false

	for _, check := range []struct {
		result fileformat.OpenResult
		path   string
	}{
		{dataResult, dataPath},
		{keyResult, keyPath},
	} {
		if check.result.Created {
			continue
		}

		buf := fileformat.Encode(check.result.Header)

		err := fileformat.Validate(buf[:], signature, version)
		if err == nil {
			continue
		}

		ready, statErr := holdsRecords(fsys, check.path)
		if statErr != nil {
			_ = dataResult.File.Close()
			_ = keyResult.File.Close()

			return ShardHandles{}, fmt.Errorf("server: stat %q: %w", check.path, statErr)
		}

		if ready {
			_ = dataResult.File.Close()
			_ = keyResult.File.Close()

			return ShardHandles{}, fmt.Errorf(
				"server: shard %d: %q belongs to another deployment (%v); move it aside or fix the signature/meid_version in the token file",
				index, check.path, err)
		}

		if logger != nil {
			logger.Warnf("shard %d: header mismatch on empty %q, marking faint: %v", index, check.path, err)
		}

		faint = true
	}

	return ShardHandles{Index: index, DataFile: dataResult.File, KeyFile: keyResult.File, Faint: faint}, nil
}

// holdsRecords reports whether the file at path contains anything beyond
// its 256-byte header.
func holdsRecords(fsys fs.FS, path string) (bool, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return false, err
	}

	return info.Size() > fileformat.HeaderSize, nil
}

// DataFilePath returns the conventional path for a shard's data file.
func DataFilePath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("meid-%d.sfd", index))
}

// KeyFilePath returns the conventional path for a shard's key file.
func KeyFilePath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("key-%d.sfk", index))
}

// Close closes every shard's open files.
func (s *Shards) Close() error {
	var firstErr error

	for _, h := range s.handles {
		if err := h.DataFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		if err := h.KeyFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Count returns the configured shard count. It implements store.ShardFiles.
func (s *Shards) Count() int { return len(s.handles) }

// KeyFilePath implements store.ShardFiles.
func (s *Shards) KeyFilePath(shard int) string { return KeyFilePath(s.dir, shard) }

// DataFilePath implements store.ShardFiles.
func (s *Shards) DataFilePath(shard int) string { return DataFilePath(s.dir, shard) }

// Signature implements store.ShardFiles.
func (s *Shards) Signature() [fileformat.SignatureSize]byte { return s.signature }

// Version implements store.ShardFiles.
func (s *Shards) Version() uint16 { return s.version }

// Permission implements store.ShardFiles.
func (s *Shards) Permission() os.FileMode { return s.perm }
