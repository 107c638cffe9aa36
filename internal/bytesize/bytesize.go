// Package bytesize adapts github.com/dustin/go-humanize to the server's
// size-limited configuration keys (cli_input_size, backup_size_limit,
// memory.max_size): humanize does the parsing and formatting, this
// package maps the memory.mb_mode unit-base switch onto its decimal
// (KB = 1000) vs IEC (KiB = 1024) suffix families.
package bytesize

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// Parse converts a byte-size string (e.g. "10MB", "1.5GiB", "2048", "0")
// into a byte count using binary units (KB = 1024). A bare number (no
// suffix) is bytes. An empty or all-whitespace string parses to 0
// (disabled).
func Parse(s string) (int64, error) {
	return ParseBase(s, true)
}

// ParseBase is Parse with an explicit unit base: binary=true means
// KB = 1024, binary=false means KB = 1000 (the memory.mb_mode toggle).
// The IEC suffixes KiB/MiB/GiB/TiB are always 1024-based regardless.
func ParseBase(s string, binary bool) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, nil
	}

	if binary {
		trimmed = iecSpelling(trimmed)
	}

	n, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid size %q: %w", s, err)
	}

	if n > math.MaxInt64 {
		return 0, fmt.Errorf("bytesize: size %q overflows", s)
	}

	return int64(n), nil
}

// iecSpelling rewrites decimal unit suffixes (KB/MB/GB/TB, or a bare
// K/M/G/T) into their IEC forms so humanize parses them 1024-based.
// Inputs already carrying an IEC suffix pass through unchanged.
func iecSpelling(s string) string {
	lower := strings.ToLower(s)

	for _, u := range [...]struct{ dec, iec string }{
		{"kb", "KiB"}, {"mb", "MiB"}, {"gb", "GiB"}, {"tb", "TiB"},
	} {
		if strings.HasSuffix(lower, u.dec) {
			return s[:len(s)-2] + u.iec
		}
	}

	for _, u := range [...]struct{ dec, iec string }{
		{"k", "KiB"}, {"m", "MiB"}, {"g", "GiB"}, {"t", "TiB"},
	} {
		if strings.HasSuffix(lower, u.dec) {
			return s[:len(s)-1] + u.iec
		}
	}

	return s
}

// Format renders n bytes in IEC units, e.g. 10485760 -> "10 MiB". Used
// by the `info` command.
func Format(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}

	return humanize.IBytes(uint64(n))
}
