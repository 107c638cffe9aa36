package aol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/snowflakedb/snowflake/internal/codec"
)

// stringify renders a value for the textual line format: N for nil, T/F
// for bool, the natural decimal form for numbers, and JSON for strings,
// byte strings, sequences, and mappings.
func stringify(v codec.Value) string {
	switch v.Kind() {
	case codec.KindNil:
		return "N"
	case codec.KindBool:
		b, _ := v.AsBool()
		if b {
			return "T"
		}

		return "F"
	case codec.KindInt:
		i, _ := v.AsInt()

		return strconv.FormatInt(i, 10)
	case codec.KindUint:
		u, _ := v.AsUint()

		return strconv.FormatUint(u, 10)
	case codec.KindFloat:
		f, _ := v.AsFloat()

		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		// String, Bytes, Seq, Map.
		data, err := json.Marshal(codec.ToNative(v))
		if err != nil {
			// Unreachable: ToNative only ever produces JSON-marshalable types.
			return "null"
		}

		return string(data)
	}
}

// parseStringified reads back what stringify writes. The text form does
// not keep every kind apart: a byte string comes back as its base64
// string, a float with an integral value or an unsigned integer that fits
// int64 comes back as a signed integer, and numbers inside sequences and
// mappings come back as floats.
func parseStringified(s string) (codec.Value, error) {
	switch s {
	case "N":
		return codec.Nil(), nil
	case "T":
		return codec.Bool(true), nil
	case "F":
		return codec.Bool(false), nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return codec.Int(i), nil
	}

	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return codec.Uint(u), nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return codec.Float(f), nil
	}

	var native any

	err := json.Unmarshal([]byte(s), &native)
	if err != nil {
		return codec.Value{}, fmt.Errorf("aol: cannot parse stringified value %q: %w", s, err)
	}

	return codec.FromNative(native), nil
}

// formatSetLine renders one "set" line: keys sharing the same value,
// separated by "<", with the stringified value last.
func formatSetLine(keys []string, value codec.Value) string {
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, keys...)
	parts = append(parts, stringify(value))

	return strings.Join(parts, "<")
}

// formatRemoveLine renders one "remove" line: "#key1 #key2 …".
func formatRemoveLine(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = "#" + k
	}

	return strings.Join(parts, " ")
}

// ParsedLine is one decoded logical AOL line.
type ParsedLine struct {
	IsSet bool
	Keys  []string
	Value codec.Value // only meaningful when IsSet
}

// ParseLine decodes a single AOL line. It returns (nil, nil) for blank
// lines and comment lines (starting with ";"), which replay must ignore.
func ParseLine(line string) (*ParsedLine, error) {
	if line == "" || strings.HasPrefix(line, ";") {
		return nil, nil
	}

	if strings.HasPrefix(line, "#") {
		fields := strings.Fields(line)
		keys := make([]string, 0, len(fields))

		for _, f := range fields {
			keys = append(keys, strings.TrimPrefix(f, "#"))
		}

		return &ParsedLine{IsSet: false, Keys: keys}, nil
	}

	parts := strings.Split(line, "<")
	if len(parts) < 2 {
		return nil, fmt.Errorf("aol: malformed set line: %q", line)
	}

	// Keys are sanitized ([A-Za-z0-9_-]) and so can never contain "<";
	// the stringified value can (inside a JSON string). The value starts
	// at the first part that cannot be a key, or is simply the last part
	// when every part looks key-like (numeric values do).
	valueStart := len(parts) - 1

	for i, part := range parts[:len(parts)-1] {
		if !isSanitizedKey(part) {
			valueStart = i

			break
		}
	}

	if valueStart == 0 {
		return nil, fmt.Errorf("aol: set line has no keys: %q", line)
	}

	keys := parts[:valueStart]

	value, err := parseStringified(strings.Join(parts[valueStart:], "<"))
	if err != nil {
		return nil, err
	}

	return &ParsedLine{IsSet: true, Keys: keys, Value: value}, nil
}

// isSanitizedKey reports whether s is non-empty and made only of the
// sanitized key charset [A-Za-z0-9_-].
func isSanitizedKey(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
		if !ok {
			return false
		}
	}

	return true
}
