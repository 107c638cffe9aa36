package store_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowflakedb/snowflake/internal/store"
)

// FuzzSanitizeKey_Is_Idempotent_And_Stays_In_Charset checks the key
// sanitizer's contract against arbitrary input: the output never leaves
// [A-Za-z0-9_-], sanitizing twice changes nothing, and trim mode never
// leaves a leading or trailing underscore.
func FuzzSanitizeKey_Is_Idempotent_And_Stays_In_Charset(f *testing.F) {
	f.Add("hello world", false)
	f.Add("__leading_trailing__", true)
	f.Add("tabs\tand\nnewlines", false)
	f.Add("ünïcode-and-émoji-🗝", true)
	f.Add("", false)

	f.Fuzz(func(t *testing.T, in string, trim bool) {
		once := store.SanitizeKey(in, trim)
		require.Equal(t, once, store.SanitizeKey(once, trim))

		for _, r := range once {
			ok := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
			require.True(t, ok, "char %q escaped the sanitized charset", r)
		}

		if trim && once != "" {
			require.False(t, strings.HasPrefix(once, "_"))
			require.False(t, strings.HasSuffix(once, "_"))
		}
	})
}
