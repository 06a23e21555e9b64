package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/openbootdotdev/reposnap/internal/snapshot"
)

// ChecksumBytes returns the lowercase hex SHA-256 of data.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify fails with snapshot.ErrChecksumMismatch when data does not hash to want.
func Verify(data []byte, want string) error {
	if got := ChecksumBytes(data); got != want {
		return fmt.Errorf("%w: expected %s, got %s", snapshot.ErrChecksumMismatch, want, got)
	}
	return nil
}
