package fileformat_test

import (
	"crypto/sha256"
	"os"
)

const osRDWR = os.O_RDWR

func sha256Of(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func truncate(path string, size int64) error {
	return os.Truncate(path, size)
}
