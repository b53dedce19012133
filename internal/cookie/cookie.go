// Package cookie implements the NTS cookie codec (spec.md §4.2): the opaque
// blob a client presents on every NTP request to let the server recover the
// directional keys from the original KE exchange without keeping per-client
// state.
package cookie

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/cvsouth/nts-go/internal/wireaead"
)

// KeyIDSize is the width of the key identifier prepended to every cookie.
const KeyIDSize = 4

// NonceSize is the width of the random nonce used for the cookie seal.
const NonceSize = 16

// Keys is the pair of directional NTS keys a cookie seals.
type Keys struct {
	C2S [32]byte
	S2C [32]byte
}

// KeyID is a 4-byte big-endian epoch identifier, the key rotator's wire
// representation of an epoch (spec.md §3 Epoch).
type KeyID [KeyIDSize]byte

// Seal produces a cookie that recovers keys under masterKey when opened with
// the same keyID's wrapped key. Layout: key_id || nonce || AEAD_seal(...).
func Seal(keys Keys, masterKey []byte, keyID KeyID) ([]byte, error) {
	aead, err := wireaead.New(masterKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cookie: draw nonce: %w", err)
	}

	plaintext := make([]byte, 64)
	copy(plaintext[0:32], keys.C2S[:])
	copy(plaintext[32:64], keys.S2C[:])

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, KeyIDSize+NonceSize+len(ciphertext))
	copy(out[0:KeyIDSize], keyID[:])
	copy(out[KeyIDSize:KeyIDSize+NonceSize], nonce)
	copy(out[KeyIDSize+NonceSize:], ciphertext)
	return out, nil
}

// PeekKeyID extracts the key identifier from a cookie without attempting to
// open it, so the caller can select the right wrap key without trial
// decryption.
func PeekKeyID(cookieBytes []byte) (KeyID, error) {
	if len(cookieBytes) < KeyIDSize {
		return KeyID{}, fmt.Errorf("cookie: too short to contain a key id: %d bytes", len(cookieBytes))
	}
	var id KeyID
	copy(id[:], cookieBytes[:KeyIDSize])
	return id, nil
}

// Open recovers the directional keys sealed in cookieBytes under masterKey.
func Open(cookieBytes []byte, masterKey []byte) (Keys, error) {
	if len(cookieBytes) < KeyIDSize+NonceSize {
		return Keys{}, fmt.Errorf("cookie: too short: %d bytes", len(cookieBytes))
	}
	nonce := cookieBytes[KeyIDSize : KeyIDSize+NonceSize]
	ciphertext := cookieBytes[KeyIDSize+NonceSize:]

	aead, err := wireaead.New(masterKey)
	if err != nil {
		return Keys{}, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Keys{}, fmt.Errorf("cookie: AEAD open failed: %w", err)
	}
	if len(plaintext) != 64 {
		return Keys{}, fmt.Errorf("cookie: unexpected plaintext length %d", len(plaintext))
	}

	var keys Keys
	copy(keys.C2S[:], plaintext[0:32])
	copy(keys.S2C[:], plaintext[32:64])
	return keys, nil
}

// KeyIDFromEpoch encodes an epoch value as its big-endian key id.
func KeyIDFromEpoch(epoch int64) KeyID {
	var id KeyID
	binary.BigEndian.PutUint32(id[:], uint32(epoch))
	return id
}
