package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// OneTimeTokenBytes is the entropy of generated one-time tokens (256 bits)
const OneTimeTokenBytes = 32

// RandomHex returns n bytes from crypto/rand, hex encoded
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
