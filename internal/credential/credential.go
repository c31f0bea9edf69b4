// Package credential hashes and verifies secrets: passwords and the opaque
// remember, activation, and reset tokens. Only digests are ever stored.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Params are the Argon2id cost parameters used for new digests.
// Verification always reads parameters back out of the stored digest.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultParams are used in every profile except test. ~100ms per hash.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 2, SaltLen: 16, KeyLen: 32}

// MinParams keep test suites fast. Never use outside the test profile.
var MinParams = Params{Time: 1, Memory: 64, Threads: 1, SaltLen: 16, KeyLen: 32}

// ParamsFor returns MinParams for the "test" profile and DefaultParams otherwise.
func ParamsFor(env string) Params {
	if env == "test" {
		return MinParams
	}
	return DefaultParams
}

var errMalformed = errors.New("malformed digest")

// Hasher produces and checks digests. Safe for concurrent use.
type Hasher struct {
	params Params
	dummy  string
}

// NewHasher returns a Hasher issuing digests with p.
// Precomputes a dummy digest so unknown-account paths cost the same as real ones.
func NewHasher(p Params) (*Hasher, error) {
	h := &Hasher{params: p}
	dummy, err := h.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// Dummy returns a valid digest that matches no real secret.
// Verify against it when the account is missing to equalise timing.
func (h *Hasher) Dummy() *string {
	d := h.dummy
	return &d
}

// Hash returns a PHC-formatted Argon2id digest of secret.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 hash>
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether candidate matches digest.
// A nil or empty digest is false, never an error; so is a malformed one.
// bcrypt digests carried over from the previous system are still accepted.
func (h *Hasher) Verify(digest *string, candidate string) bool {
	if digest == nil || *digest == "" {
		return false
	}
	encoded := *digest
	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(candidate)) == nil
	}
	ok, err := verifyArgon2id(encoded, candidate)
	return err == nil && ok
}

// NeedsRehash reports whether digest was produced by another algorithm or weaker parameters.
func (h *Hasher) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	p, _, _, err := decodeArgon2id(digest)
	if err != nil {
		return true
	}
	return p.Time < h.params.Time || p.Memory < h.params.Memory
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$")
}

// decodeArgon2id splits a PHC string into params, salt, and key.
func decodeArgon2id(encoded string) (Params, []byte, []byte, error) {
	var p Params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, errMalformed
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, errMalformed
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, errMalformed
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, errMalformed
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errMalformed
	}
	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}

func verifyArgon2id(encoded, candidate string) (bool, error) {
	p, salt, expected, err := decodeArgon2id(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(candidate), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
