// Package wireaead provides the single AEAD construction spec.md names:
// AEAD_AES_SIV_CMAC_256 (RFC 5297), algorithm id 15. It backs both the NTS
// packet authenticator (this package) and the cookie codec
// (internal/cookie), which imports New directly.
package wireaead

import (
	"crypto/cipher"
	"fmt"

	siv "github.com/secure-io/siv-go"
)

// KeySize is the width of an AEAD_AES_SIV_CMAC_256 key in octets.
const KeySize = 32

// AlgorithmID is the NTS-KE AEAD algorithm identifier for AES-SIV-CMAC-256
// (the only value this implementation supports).
const AlgorithmID uint16 = 15

// New constructs an AES-SIV AEAD instance bound to key. A fresh instance is
// built per operation; the underlying block cipher is not assumed safe for
// concurrent use across goroutines.
func New(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("wireaead: key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := siv.NewCMAC(key)
	if err != nil {
		return nil, fmt.Errorf("wireaead: construct AES-SIV: %w", err)
	}
	return aead, nil
}
