// token.go -- opaque token issuer.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes is 128 bits of entropy; 22 characters once base64url encoded.
const tokenBytes = 16

// NewToken returns a URL-safe random token for remember, activation, and reset links.
// Hand the plaintext to the client or the mailer; persist only Hasher.Hash(token).
func NewToken() (string, error) {
	var b [tokenBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating token with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
