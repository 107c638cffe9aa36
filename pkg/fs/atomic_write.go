package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrAtomicWriteDirSync indicates the parent directory could not be
// synced after the rename. The new file is in place but its directory
// entry's durability is not guaranteed. Detect with
// errors.Is(err, ErrAtomicWriteDirSync).
var ErrAtomicWriteDirSync = errors.New("dir sync")

// AtomicWriter replaces whole files durably: write to a temp file in the
// target's directory, fsync it, rename it over the target, fsync the
// directory. Compaction uses this to swap in each shard's rewritten
// key/data files so a crash mid-pass leaves the previous generation
// intact.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter over fsys. Panics if fsys is
// nil.
func NewAtomicWriter(fsys FS) *AtomicWriter {
	if fsys == nil {
		panic("fsys is nil")
	}

	return &AtomicWriter{fs: fsys}
}

// AtomicWriteOptions configures Write.
type AtomicWriteOptions struct {
	// SyncDir controls whether the parent directory is fsynced after the
	// rename, making the new directory entry itself durable.
	SyncDir bool

	// Perm is the target file's mode; must be non-zero. The temp file is
	// explicitly chmod'd to it, so the result is independent of umask.
	Perm os.FileMode
}

// Write replaces path with the contents of reader, atomically and
// durably. On any failure before the rename, the target is untouched and
// the temp file is removed. If only the final directory sync fails, the
// returned error satisfies errors.Is(err, ErrAtomicWriteDirSync).
func (w *AtomicWriter) Write(path string, reader io.Reader, opts AtomicWriteOptions) error {
	if reader == nil {
		panic("reader is nil")
	}

	if path == "" {
		return errors.New("path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("opts.Perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == string(os.PathSeparator) || base == "." {
		return fmt.Errorf("path is invalid: %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmp, tmpPath, err := w.createTemp(dir, base, opts.Perm)
	if err != nil {
		return err
	}

	err = fillTemp(tmp, tmpPath, reader, opts.Perm)
	if err != nil {
		return errors.Join(err, w.discardTemp(tmp, tmpPath))
	}

	err = w.fs.Rename(tmpPath, path)
	if err != nil {
		return errors.Join(fmt.Errorf("rename: %w", err), w.discardTemp(tmp, tmpPath))
	}

	closeErr := closeFile(tmp, tmpPath)

	if opts.SyncDir {
		err := w.syncDir(dir)
		if err != nil {
			return errors.Join(err, closeErr)
		}
	}

	// The rename landed; a close error on the already-renamed temp handle
	// is not worth failing the write over.
	return nil
}

// fillTemp chmods the temp file, streams reader into it, and fsyncs it.
func fillTemp(tmp File, tmpPath string, reader io.Reader, perm os.FileMode) error {
	err := tmp.Chmod(perm)
	if err != nil {
		return fmt.Errorf("chmod temp file %q: %w", tmpPath, err)
	}

	_, err = io.Copy(tmp, reader)
	if err != nil {
		return fmt.Errorf("write temp file %q: %w", tmpPath, err)
	}

	err = tmp.Sync()
	if err != nil {
		return fmt.Errorf("sync temp file %q: %w", tmpPath, err)
	}

	return nil
}

const atomicWriteMaxAttempts = 10000

var atomicWriteCounter atomic.Uint64

// createTemp opens a fresh hidden temp file next to the target so the
// later rename stays on one filesystem.
func (w *AtomicWriter) createTemp(dir, base string, perm os.FileMode) (File, string, error) {
	for i := 0; i < atomicWriteMaxAttempts; i++ {
		seq := atomicWriteCounter.Add(1)
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, seq))

		file, err := w.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

// discardTemp closes and removes a temp file after a failure.
func (w *AtomicWriter) discardTemp(tmp File, tmpPath string) error {
	closeErr := closeFile(tmp, tmpPath)

	err := w.fs.Remove(tmpPath)
	if err != nil && !os.IsNotExist(err) {
		return errors.Join(closeErr, fmt.Errorf("remove temp file %q: %w", tmpPath, err))
	}

	return closeErr
}

func (w *AtomicWriter) syncDir(dir string) error {
	handle, err := w.fs.Open(dir)
	if err != nil {
		return errors.Join(ErrAtomicWriteDirSync, fmt.Errorf("open dir %q: %w", dir, err))
	}

	syncErr := handle.Sync()
	if syncErr == nil {
		return closeFile(handle, dir)
	}

	return errors.Join(
		ErrAtomicWriteDirSync,
		fmt.Errorf("%q: %w", dir, syncErr),
		closeFile(handle, dir),
	)
}

func closeFile(f File, path string) error {
	err := f.Close()
	if err == nil {
		return nil
	}

	return fmt.Errorf("close %q: %w", path, err)
}
