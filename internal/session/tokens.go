package session

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/snowflakedb/snowflake/internal/fileformat"
)

// TokenInfo is one access token's record in the token file.
type TokenInfo struct {
	Alias          string   `json:"alias"`
	Permissions    []string `json:"permissions"`
	MaxConnections int      `json:"max_connections"` // -1 = unlimited
}

// TokenFile is the on-disk JSON shape of the access-token table.
type TokenFile struct {
	Signature   string               `json:"signature"`
	MeidVersion uint16               `json:"meid_version"`
	AccessKeys  map[string]TokenInfo `json:"access_keys"`
}

// LoadTokenFile reads and parses path.
func LoadTokenFile(path string) (TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TokenFile{}, fmt.Errorf("session: read token file %q: %w", path, err)
	}

	var tf TokenFile

	err = json.Unmarshal(data, &tf)
	if err != nil {
		return TokenFile{}, fmt.Errorf("session: parse token file %q: %w", path, err)
	}

	return tf, nil
}

// SignatureBytes returns the file's signature padded/truncated to the
// fixed-width form used by fileformat headers.
func (tf TokenFile) SignatureBytes() [fileformat.SignatureSize]byte {
	return fileformat.Signature(tf.Signature)
}

// TokenStore is the narrow interface Session needs to resolve a raw
// token into its access record. Implemented by TokenFile (via
// TokenTable) or any test double.
type TokenStore interface {
	Lookup(token string) (TokenInfo, bool)
}

// TokenTable is an in-memory TokenStore backed by a loaded TokenFile.
type TokenTable struct {
	keys map[string]TokenInfo
}

// NewTokenTable builds a TokenTable from a loaded TokenFile.
func NewTokenTable(tf TokenFile) *TokenTable {
	return &TokenTable{keys: tf.AccessKeys}
}

func (t *TokenTable) Lookup(token string) (TokenInfo, bool) {
	info, ok := t.keys[token]

	return info, ok
}
