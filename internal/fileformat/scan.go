package fileformat

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/snowflakedb/snowflake/pkg/fs"
)

// recordPrefixSize is digest(32) + size(4).
const (
	digestSize       = 32
	sizeFieldSize    = 4
	recordPrefixSize = digestSize + sizeFieldSize
)

// RecordHandler is called once per record in file order during ScanRecords.
// digest is the 32-byte record digest, payload is the key bytes (key file)
// or value bytes (data file), and position is the byte offset of the
// record's start (the digest field), relative to the start of the file.
type RecordHandler func(digest [digestSize]byte, size uint32, payload []byte, position int64) error

// ScanRecords reads sequential records from f starting at HeaderSize and
// invokes onRecord for each, in file order.
//
// If verifyKeyDigest is true (key files), ScanRecords checks that
// SHA256(payload) equals the declared digest and aborts with ErrCorrupt on
// mismatch. Data files (verifyKeyDigest=false) carry the key's digest
// alongside the value, which is not re-derivable from the value bytes, so
// no such check is made there.
//
// ScanRecords aborts with ErrCorrupt if a record's declared size would
// extend past EOF.
func ScanRecords(f fs.File, verifyKeyDigest bool, onRecord RecordHandler) error {
	_, err := f.Seek(HeaderSize, io.SeekStart)
	if err != nil {
		return fmt.Errorf("fileformat: seek to records: %w", err)
	}

	position := int64(HeaderSize)
	prefix := make([]byte, recordPrefixSize)

	for {
		_, err := io.ReadFull(f, prefix)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: truncated record prefix at offset %d", ErrCorrupt, position)
			}

			return fmt.Errorf("fileformat: read record prefix: %w", err)
		}

		var digest [digestSize]byte
		copy(digest[:], prefix[:digestSize])
		size := binary.BigEndian.Uint32(prefix[digestSize:])

		payload := make([]byte, size)

		_, err = io.ReadFull(f, payload)
		if err != nil {
			return fmt.Errorf("%w: record at offset %d extends past EOF: %v", ErrCorrupt, position, err)
		}

		if verifyKeyDigest {
			got := sha256.Sum256(payload)
			if got != digest {
				return fmt.Errorf("%w: digest mismatch for record at offset %d", ErrCorrupt, position)
			}
		}

		err = onRecord(digest, size, payload, position)
		if err != nil {
			return err
		}

		position += recordPrefixSize + int64(size)
	}
}

// EncodeRecord renders digest‖size‖payload as the on-disk record bytes.
func EncodeRecord(digest [digestSize]byte, payload []byte) ([]byte, error) {
	if len(payload) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload too large (%d bytes)", ErrCorrupt, len(payload))
	}

	buf := make([]byte, recordPrefixSize+len(payload))
	copy(buf[:digestSize], digest[:])
	binary.BigEndian.PutUint32(buf[digestSize:], uint32(len(payload)))
	copy(buf[recordPrefixSize:], payload)

	return buf, nil
}

// AppendRecord appends digest‖size‖payload to f, which must be positioned at
// EOF (callers typically Seek(0, io.SeekEnd) first), and returns the byte
// offset the record was written at.
func AppendRecord(f fs.File, digest [digestSize]byte, payload []byte) (int64, error) {
	position, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("fileformat: seek to end: %w", err)
	}

	buf, err := EncodeRecord(digest, payload)
	if err != nil {
		return 0, err
	}

	_, err = f.Write(buf)
	if err != nil {
		return 0, fmt.Errorf("fileformat: write record: %w", err)
	}

	return position, nil
}

// RecordLength returns the full encoded record length for a payload of the
// given size: digest(32) + size(4) + payload.
func RecordLength(payloadSize uint32) uint32 {
	return recordPrefixSize + payloadSize
}
