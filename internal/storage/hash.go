package storage

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the work factor HashAPIKey spends on each call. Cost 10
// costs roughly 60ms per hash on commodity hardware; this is a one-time
// cost paid at config load, not a per-request cost, so there's no pressure
// to tune it down.
const (
	bcryptCost  = 10
	bcryptLimit = 72 // bcrypt truncates input past this many bytes
)

// HashAPIKey bcrypt-hashes apiKey for storage, so the plaintext value loaded
// from the environment never needs to be retained once internal/config has
// hashed it. Keys longer than bcryptLimit are pre-hashed with SHA-256 first,
// since bcrypt otherwise silently ignores everything past its 72-byte input
// limit.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrKeyNil
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing API key: %w", err)
	}

	return string(hash), nil
}

// bcryptInput prepares apiKey for bcrypt, pre-hashing with SHA-256 when it
// exceeds bcryptLimit so keys of any length still incorporate their full
// value into the resulting hash.
func bcryptInput(apiKey string) []byte {
	if len(apiKey) <= bcryptLimit {
		return []byte(apiKey)
	}

	sum := sha256.Sum256([]byte(apiKey))

	return sum[:]
}
