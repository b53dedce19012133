package wireaead

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/cvsouth/nts-go/internal/wire"
)

// NonceSize is the width of the random nonce drawn for each seal. AES-SIV is
// nonce-misuse resistant, but this implementation always draws fresh
// randomness rather than relying on that property (spec.md §9 Open
// Questions: deterministic nonces are out of scope here).
const NonceSize = 16

// Seal builds a complete NTS-protected NTP packet: the header and auth
// (cleartext, authenticated-only) extensions in the clear, followed by a
// single NtsAuthenticator extension that AEAD-seals encExts under key with
// everything preceding it as associated data (spec.md §4.1).
func Seal(header wire.Header, authExts, encExts []wire.Extension, key []byte) ([]byte, error) {
	aead, err := New(key)
	if err != nil {
		return nil, err
	}

	a := header.Encode()
	a = append(a, wire.EncodeExtensions(authExts)...)

	plaintext := wire.EncodeExtensions(encExts)

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wireaead: draw nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, a)

	body := authenticatorBody(nonce, ciphertext)
	authExt := wire.Extension{Type: wire.ExtNtsAuthenticator, Value: body}

	return append(a, authExt.Encode()...), nil
}

// Open parses and verifies an NTS-protected NTP packet. It returns the
// header, the authenticated-only extensions that preceded the authenticator,
// and the extensions recovered from the encrypted payload. It fails if no
// authenticator extension is present or if the AEAD verification fails.
func Open(buf []byte, key []byte) (wire.Header, []wire.Extension, []wire.Extension, error) {
	if len(buf) < wire.HeaderLen {
		return wire.Header{}, nil, nil, fmt.Errorf("wireaead: open: buffer shorter than header")
	}
	header, err := wire.DecodeHeader(buf)
	if err != nil {
		return wire.Header{}, nil, nil, err
	}

	aead, err := New(key)
	if err != nil {
		return wire.Header{}, nil, nil, err
	}

	var authExts []wire.Extension
	offset := wire.HeaderLen
	rest := buf[wire.HeaderLen:]

	for len(rest) > 0 {
		if len(rest) < 4 {
			return wire.Header{}, nil, nil, fmt.Errorf("wireaead: open: %d trailing bytes before any authenticator", len(rest))
		}
		typ := binary.BigEndian.Uint16(rest[0:2])
		length := binary.BigEndian.Uint16(rest[2:4])
		if length < 4 || length%4 != 0 || int(length) > len(rest) {
			return wire.Header{}, nil, nil, fmt.Errorf("wireaead: open: malformed extension length %d", length)
		}
		value := rest[4:length]

		if typ == wire.ExtNtsAuthenticator {
			a := buf[:offset]
			plaintext, err := openAuthenticatorBody(aead, value, a)
			if err != nil {
				return wire.Header{}, nil, nil, err
			}
			encExts, err := wire.DecodeExtensions(plaintext)
			if err != nil {
				return wire.Header{}, nil, nil, fmt.Errorf("wireaead: open: decode encrypted extensions: %w", err)
			}
			return header, authExts, encExts, nil
		}

		authExts = append(authExts, wire.Extension{Type: typ, Value: append([]byte(nil), value...)})
		rest = rest[length:]
		offset += int(length)
	}

	return wire.Header{}, nil, nil, fmt.Errorf("wireaead: open: never saw the authenticator")
}

func authenticatorBody(nonce, ciphertext []byte) []byte {
	noncePadded := padTo4(nonce)
	ctPadded := padTo4(ciphertext)
	body := make([]byte, 4+len(noncePadded)+len(ctPadded))
	binary.BigEndian.PutUint16(body[0:2], uint16(len(nonce)))
	binary.BigEndian.PutUint16(body[2:4], uint16(len(ciphertext)))
	copy(body[4:], noncePadded)
	copy(body[4+len(noncePadded):], ctPadded)
	return body
}

func openAuthenticatorBody(aead cipher.AEAD, body []byte, aad []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("wireaead: authenticator body too short")
	}
	nonceLen := int(binary.BigEndian.Uint16(body[0:2]))
	ctLen := int(binary.BigEndian.Uint16(body[2:4]))
	noncePadLen := padLen4(nonceLen)
	ctPadLen := padLen4(ctLen)
	if 4+noncePadLen+ctPadLen > len(body) {
		return nil, fmt.Errorf("wireaead: authenticator body shorter than declared nonce/ciphertext lengths")
	}
	nonce := body[4 : 4+nonceLen]
	ciphertext := body[4+noncePadLen : 4+noncePadLen+ctLen]

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("wireaead: AEAD open failed: %w", err)
	}
	return plaintext, nil
}

func padTo4(b []byte) []byte {
	n := padLen4(len(b))
	if n == len(b) {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func padLen4(n int) int {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}
