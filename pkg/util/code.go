package util

import (
	"crypto/rand"
	"encoding/hex"
)

// OneTimeCodeBytes is the amount of randomness behind a one-time code.
// Hex encoding doubles it, so codes are 128 characters long.
const OneTimeCodeBytes = 64

// GenerateOneTimeCode returns a hex-encoded cryptographically random code
func GenerateOneTimeCode() (string, error) {
	bytes := make([]byte, OneTimeCodeBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
