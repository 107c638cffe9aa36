package command

import (
	"encoding/json"
	"fmt"

	"github.com/snowflakedb/snowflake/internal/codec"
)

// parseJSONObject parses a JSON object string into a key -> Value map,
// for `set --json '{"a":1,"b":2}'`.
func parseJSONObject(s string) (map[string]codec.Value, error) {
	var native map[string]any

	err := json.Unmarshal([]byte(s), &native)
	if err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}

	out := make(map[string]codec.Value, len(native))
	for k, v := range native {
		out[k] = codec.FromNative(v)
	}

	return out, nil
}
