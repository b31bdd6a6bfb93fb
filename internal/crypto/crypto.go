package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultSaltLength is the number of random bytes in a password salt
const DefaultSaltLength = 16

// Digest returns the lowercase hex SHA-256 of b
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestString returns the hex SHA-256 of the UTF-8 bytes of s
func DigestString(s string) string {
	return Digest([]byte(s))
}

// RandomSalt returns length random bytes from crypto/rand, hex encoded
func RandomSalt(length int) (string, error) {
	if length <= 0 {
		length = DefaultSaltLength
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// PasswordHasher derives and checks stored password hashes
type PasswordHasher interface {
	Hash(password, saltHex string) (string, error)
	Verify(password, saltHex, hash string) bool
}

// SaltedSHA256 hashes digest(saltHex + ":" + password)
type SaltedSHA256 struct{}

// HashPassword is the salted digest used by SaltedSHA256
func HashPassword(password, saltHex string) string {
	return DigestString(saltHex + ":" + password)
}

func (SaltedSHA256) Hash(password, saltHex string) (string, error) {
	return HashPassword(password, saltHex), nil
}

func (SaltedSHA256) Verify(password, saltHex, hash string) bool {
	return HashPassword(password, saltHex) == hash
}

// BcryptHasher runs bcrypt over the salted SHA-256 digest, so the input is
// always 64 bytes regardless of password length; bcrypt keeps its own salt too
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password, saltHex string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(HashPassword(password, saltHex)), cost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(out), nil
}

func (h BcryptHasher) Verify(password, saltHex, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(HashPassword(password, saltHex))) == nil
}

// NewPasswordHasher returns the hasher for a configured scheme name
func NewPasswordHasher(scheme string) (PasswordHasher, error) {
	switch strings.ToLower(scheme) {
	case "", "sha256":
		return SaltedSHA256{}, nil
	case "bcrypt":
		return BcryptHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown password scheme %q", scheme)
	}
}
