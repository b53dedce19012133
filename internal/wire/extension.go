package wire

import (
	"encoding/binary"
	"fmt"
)

// Extension is a single NTP extension field: type, plus a value whose
// encoded length (4 + len(Value)) is always padded to a multiple of 4.
type Extension struct {
	Type  uint16
	Value []byte
}

// NTS extension field types (RFC 8915 §5).
const (
	ExtUniqueIdentifier    uint16 = 0x0104
	ExtNtsCookie           uint16 = 0x0204
	ExtNtsCookiePlaceholder uint16 = 0x0304
	ExtNtsAuthenticator    uint16 = 0x0404
)

// minExtensionLen is the minimum encoded length (header + value, padded) of
// any extension field that is not the last one in a packet.
const minExtensionLen = 16

// minLastExtensionLen is the minimum encoded length of the last extension
// field in a packet (RFC 7822 §7.5.1).
const minLastExtensionLen = 28

// Encode serializes a single extension field with its length header and
// zero-padding to the next multiple of 4.
func (e Extension) Encode() []byte {
	padded := padLen(len(e.Value))
	buf := make([]byte, 4+padded)
	binary.BigEndian.PutUint16(buf[0:2], e.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(4+padded))
	copy(buf[4:], e.Value)
	return buf
}

func padLen(n int) int {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}

// DecodeExtensions parses a stream of extension fields. The stream must be
// consumed exactly; any remainder is an error. Each field's length must be a
// multiple of 4 and at least 4. Each decoded Value is the whole padded body,
// zero padding included, since the length field counts the padded size.
// This permissive form is used for the
// encrypted-extensions plaintext recovered from inside an NTS authenticator,
// which isn't itself subject to RFC 7822's on-the-wire padding rule — see
// DecodePacketExtensions for that.
func DecodeExtensions(buf []byte) ([]Extension, error) {
	var exts []Extension
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, fmt.Errorf("decode extensions: %d trailing bytes, need at least 4", len(buf))
		}
		typ := binary.BigEndian.Uint16(buf[0:2])
		length := binary.BigEndian.Uint16(buf[2:4])
		if length < 4 {
			return nil, fmt.Errorf("decode extensions: length field %d is less than the 4-byte header", length)
		}
		if length%4 != 0 {
			return nil, fmt.Errorf("decode extensions: length field %d is not a multiple of 4", length)
		}
		if int(length) > len(buf) {
			return nil, fmt.Errorf("decode extensions: length field %d exceeds remaining buffer %d", length, len(buf))
		}
		value := buf[4:length]
		exts = append(exts, Extension{Type: typ, Value: append([]byte(nil), value...)})
		buf = buf[length:]
	}
	return exts, nil
}

// DecodePacketExtensions parses the extension-field stream that follows an
// NTP header directly on the wire, additionally enforcing RFC 7822 §7.5.1:
// every field but the last must be at least minExtensionLen bytes once
// padded, and the last field must be at least minLastExtensionLen. This is
// the rule a receiver uses to tell an extension field apart from a
// legacy-MAC trailer, which this module otherwise never sends or expects
// (spec.md Non-goals).
func DecodePacketExtensions(buf []byte) ([]Extension, error) {
	var exts []Extension
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, fmt.Errorf("decode packet extensions: %d trailing bytes, need at least 4", len(buf))
		}
		typ := binary.BigEndian.Uint16(buf[0:2])
		length := binary.BigEndian.Uint16(buf[2:4])
		if length < 4 {
			return nil, fmt.Errorf("decode packet extensions: length field %d is less than the 4-byte header", length)
		}
		if length%4 != 0 {
			return nil, fmt.Errorf("decode packet extensions: length field %d is not a multiple of 4", length)
		}
		if int(length) > len(buf) {
			return nil, fmt.Errorf("decode packet extensions: length field %d exceeds remaining buffer %d", length, len(buf))
		}
		minLen := minExtensionLen
		if int(length) == len(buf) {
			minLen = minLastExtensionLen
		}
		if int(length) < minLen {
			return nil, fmt.Errorf("decode packet extensions: length field %d is below the minimum %d for this position", length, minLen)
		}
		value := buf[4:length]
		exts = append(exts, Extension{Type: typ, Value: append([]byte(nil), value...)})
		buf = buf[length:]
	}
	return exts, nil
}

// EncodeExtensions serializes a sequence of extensions back to back.
func EncodeExtensions(exts []Extension) []byte {
	var out []byte
	for _, e := range exts {
		out = append(out, e.Encode()...)
	}
	return out
}
