// Package fs abstracts the filesystem operations the storage engine
// performs — opening shard and log files, scanning the database
// directory, atomic shard-file replacement — behind an interface, so tests can
// swap in fault injection ([Chaos]) without touching the engine.
//
// The main types are:
//   - [FS]: the operations the engine needs from a filesystem
//   - [File]: an open file handle (satisfied by [os.File])
//   - [Real]: the production implementation over the [os] package
//   - [Chaos]: a fault-injecting wrapper around any [FS]
//   - [AtomicWriter]: durable whole-file replacement via rename
package fs

import (
	"io"
	"os"
)

// File is an open, OS-backed file handle.
//
// Satisfied by [os.File], and required to behave like it: [File.Fd]
// must return a descriptor usable with syscalls (the AOL writer flocks
// its log file through it) until the file is closed, and Write on a
// read-only handle must fail rather than panic.
//
// Implementations must be safe for concurrent use.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor. See [os.File.Fd].
	Fd() uintptr

	// Stat returns the file's [os.FileInfo]. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Chmod changes the file's mode. See [os.File.Chmod].
	Chmod(mode os.FileMode) error
}

// FS is the filesystem surface the engine depends on. Every method
// mirrors its [os] equivalent, with OS path semantics (not the
// slash-only paths of io/fs), so a test double can be swapped in
// without changing call sites.
//
// Implementations must be safe for concurrent use.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// OpenFile opens a file with explicit flags and permissions. See
	// [os.OpenFile]. Shard and log files are opened this way so the
	// configured meids.permission mode applies on create.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads a whole file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// ReadDir lists a directory, sorted by name. See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and any missing parents. See
	// [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info, [os.ErrNotExist] if absent. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists: (false, nil)
	// when absent, (false, err) on any other failure.
	Exists(path string) (bool, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// Rename moves a file, atomically on the same filesystem. See
	// [os.Rename].
	Rename(oldpath, newpath string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
