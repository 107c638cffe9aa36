package fileformat

import (
	"fmt"
	"io"
	"os"

	"github.com/snowflakedb/snowflake/pkg/fs"
)

// OpenResult is returned by OpenOrCreate.
type OpenResult struct {
	File    fs.File
	Header  Header
	Created bool // true if the file did not exist and was created fresh
}

// OpenOrCreate opens path for read/write. If it does not exist, it is
// created with a fresh header (signature/version as given, timestamp now).
// If it exists, its header is decoded but not validated against
// signature/version: whether a mismatch is fatal or just marks the shard
// inactive is the caller's policy, so callers that care run Validate on
// the result themselves.
func OpenOrCreate(fsys fs.FS, path string, signature [SignatureSize]byte, version uint16, perm os.FileMode) (OpenResult, error) {
	existed, err := fsys.Exists(path)
	if err != nil {
		return OpenResult{}, fmt.Errorf("fileformat: stat %q: %w", path, err)
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, perm)
	if err != nil {
		return OpenResult{}, fmt.Errorf("fileformat: open %q: %w", path, err)
	}

	if !existed {
		h, err := WriteHeader(f, signature, version)
		if err != nil {
			_ = f.Close()

			return OpenResult{}, err
		}

		return OpenResult{File: f, Header: h, Created: true}, nil
	}

	buf := make([]byte, HeaderSize)

	_, err = io.ReadFull(f, buf)
	if err != nil {
		_ = f.Close()

		return OpenResult{}, fmt.Errorf("%w: reading header of %q: %v", ErrCorrupt, path, err)
	}

	h, err := Decode(buf)
	if err != nil {
		_ = f.Close()

		return OpenResult{}, err
	}

	return OpenResult{File: f, Header: h, Created: false}, nil
}
