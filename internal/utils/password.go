package utils

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBCryptCost is the adaptive hash cost used for stored passwords
const DefaultBCryptCost = 10

// ErrPasswordTooLong is returned for passwords bcrypt would truncate
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// HashPassword hashes a password using bcrypt. A zero cost selects
// DefaultBCryptCost.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBCryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPasswordHash compares a password with a hash in constant time. An
// empty hash never matches.
func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NeedsRehash reports whether hash was produced with a cost below cost
func NeedsRehash(hash string, cost int) bool {
	if cost == 0 {
		cost = DefaultBCryptCost
	}
	current, err := bcrypt.Cost([]byte(hash))
	return err == nil && current < cost
}
