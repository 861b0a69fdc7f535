package crypto

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateSecureToken creates a cryptographically secure random hex token,
// used for lock fencing tokens and similar opaque identifiers.
func GenerateSecureToken(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
