// Package fileformat implements the 256-byte header and sequential record
// layout shared by MEID (data) files and key-index files.
package fileformat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/snowflakedb/snowflake/pkg/fs"
)

// HeaderSize is the fixed size in bytes of every MEID/key file header.
const HeaderSize = 256

// SignatureSize is the width in bytes of the deployment signature field.
const SignatureSize = 8

const (
	offVersion    = 0
	offSignature  = 2
	offReserved1  = 10
	reserved1Size = 118
	offTimestamp  = 128
	offReserved2  = 136
	reserved2Size = 120
)

// CurrentVersion is the header version this implementation writes and
// expects by default.
const CurrentVersion uint16 = 1

// ErrIncompatible indicates a header's version or signature does not match
// what this process expects.
var ErrIncompatible = errors.New("fileformat: incompatible header")

// ErrCorrupt indicates a file's bytes cannot be a well-formed header or
// record stream.
var ErrCorrupt = errors.New("fileformat: corrupt file")

// Header is the decoded form of a MEID/key file's 256-byte prefix.
type Header struct {
	Version   uint16
	Signature [SignatureSize]byte
	Timestamp uint64 // seconds since epoch, written at header-write time
}

// Signature truncates or zero-pads s to SignatureSize ASCII bytes.
func Signature(s string) [SignatureSize]byte {
	var out [SignatureSize]byte
	copy(out[:], s)

	return out
}

// Encode renders h as the 256-byte on-disk header.
func Encode(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte

	binary.BigEndian.PutUint16(buf[offVersion:], h.Version)
	copy(buf[offSignature:offSignature+SignatureSize], h.Signature[:])
	binary.BigEndian.PutUint64(buf[offTimestamp:], h.Timestamp)

	return buf
}

// Decode parses a 256-byte header. It does not validate version/signature;
// use Validate for that.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header too short (%d bytes)", ErrCorrupt, len(buf))
	}

	var h Header

	h.Version = binary.BigEndian.Uint16(buf[offVersion:])
	copy(h.Signature[:], buf[offSignature:offSignature+SignatureSize])
	h.Timestamp = binary.BigEndian.Uint64(buf[offTimestamp:])

	return h, nil
}

// Validate checks that buf's version and signature (bytes 0..127, the
// reference header's identity-bearing region) match expectations. The
// timestamp and trailing reserved region are never compared — each file's
// header is written with its own creation time.
func Validate(buf []byte, wantSignature [SignatureSize]byte, wantVersion uint16) error {
	h, err := Decode(buf)
	if err != nil {
		return err
	}

	if h.Version != wantVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrIncompatible, h.Version, wantVersion)
	}

	if h.Signature != wantSignature {
		return fmt.Errorf("%w: signature %q, want %q", ErrIncompatible, h.Signature, wantSignature)
	}

	return nil
}

// WriteHeader writes a fresh 256-byte header (version, signature, and a
// timestamp of now) to f at offset 0 and returns the header written. f's
// cursor is left undefined; callers that continue writing records should
// Seek to HeaderSize afterward.
func WriteHeader(f fs.File, signature [SignatureSize]byte, version uint16) (Header, error) {
	h := Header{
		Version:   version,
		Signature: signature,
		Timestamp: uint64(time.Now().Unix()),
	}

	buf := Encode(h)

	_, err := f.Seek(0, 0)
	if err != nil {
		return Header{}, fmt.Errorf("fileformat: seek to header: %w", err)
	}

	_, err = f.Write(buf[:])
	if err != nil {
		return Header{}, fmt.Errorf("fileformat: write header: %w", err)
	}

	return h, nil
}
