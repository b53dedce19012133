// Package record implements the NTS-KE TLV record codec (RFC 8915 §4): a
// critical-bit-tagged type/length/value stream exchanged over TLS once the
// handshake completes.
package record

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Type is an NTS-KE record type. The critical bit is carried separately in
// Record, not folded into Type.
type Type uint16

const (
	TypeEndOfMessage Type = 0
	TypeNextProtocol Type = 1
	TypeError        Type = 2
	TypeWarning      Type = 3
	TypeAeadAlgorithm Type = 4
	TypeNewCookie    Type = 5
	TypeServer       Type = 6
	TypePort         Type = 7
)

const criticalBit = uint16(1) << 15

// Record is a single NTS-KE wire record: a critical-bit flag, a 15-bit type,
// and an opaque body whose length is carried on the wire as its own field.
type Record struct {
	Critical bool
	Type     Type
	Body     []byte
}

// Encode serializes r as `((critical<<15)|type):u16 || len(body):u16 || body`.
func (r Record) Encode() []byte {
	buf := make([]byte, 4+len(r.Body))
	typ := uint16(r.Type)
	if r.Critical {
		typ |= criticalBit
	}
	binary.BigEndian.PutUint16(buf[0:2], typ)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(r.Body)))
	copy(buf[4:], r.Body)
	return buf
}

// ReadRecord reads one record from r. The body length is read exactly as
// advertised; a short read is reported as an error, never silently
// truncated.
func ReadRecord(r *bufio.Reader) (Record, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, fmt.Errorf("ke record: read header: %w", err)
	}
	raw := binary.BigEndian.Uint16(hdr[0:2])
	bodyLen := binary.BigEndian.Uint16(hdr[2:4])

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Record{}, fmt.Errorf("ke record: read body: %w", err)
		}
	}

	return Record{
		Critical: raw&criticalBit != 0,
		Type:     Type(raw &^ criticalBit),
		Body:     body,
	}, nil
}

// WriteRecord serializes r and writes it to w.
func WriteRecord(w io.Writer, r Record) error {
	_, err := w.Write(r.Encode())
	return err
}

// EndOfMessage is the critical, empty-bodied terminator record.
func EndOfMessage() Record {
	return Record{Critical: true, Type: TypeEndOfMessage}
}

// NextProtocol encodes a list of next-protocol identifiers (NTPv4 is 0).
func NextProtocol(protocols ...uint16) Record {
	return Record{Critical: true, Type: TypeNextProtocol, Body: encodeUint16List(protocols)}
}

// DecodeNextProtocol parses a NextProtocol record body into its identifiers.
func DecodeNextProtocol(body []byte) ([]uint16, error) {
	return decodeUint16List(body)
}

// AeadAlgorithm encodes a list of supported AEAD algorithm identifiers
// (AES-SIV-CMAC-256 is 15, the only one this implementation produces or
// accepts).
func AeadAlgorithm(algorithms ...uint16) Record {
	return Record{Critical: true, Type: TypeAeadAlgorithm, Body: encodeUint16List(algorithms)}
}

// DecodeAeadAlgorithm parses an AeadAlgorithm record body into its
// identifiers.
func DecodeAeadAlgorithm(body []byte) ([]uint16, error) {
	return decodeUint16List(body)
}

// NewCookie wraps an opaque cookie blob. Non-critical: a peer that doesn't
// recognize cookies can safely ignore them.
func NewCookie(cookie []byte) Record {
	return Record{Type: TypeNewCookie, Body: cookie}
}

// Server names the NTP server the client should query next.
func Server(host string, critical bool) Record {
	return Record{Critical: critical, Type: TypeServer, Body: []byte(host)}
}

// Port names the NTP port the client should query next.
func Port(port uint16, critical bool) Record {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, port)
	return Record{Critical: critical, Type: TypePort, Body: body}
}

// DecodePort parses a Port record body into a port number.
func DecodePort(body []byte) (uint16, error) {
	if len(body) != 2 {
		return 0, fmt.Errorf("ke record: port body must be 2 bytes, got %d", len(body))
	}
	return binary.BigEndian.Uint16(body), nil
}

// ProtocolError is the Error record, sent by a peer aborting the exchange.
func ProtocolError(code uint16) Record {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, code)
	return Record{Critical: true, Type: TypeError, Body: body}
}

// Warning is the Warning record.
func Warning(code uint16) Record {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, code)
	return Record{Critical: true, Type: TypeWarning, Body: body}
}

func encodeUint16List(vals []uint16) []byte {
	buf := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint16(buf[2*i:], v)
	}
	return buf
}

func decodeCode(body []byte) (uint16, error) {
	if len(body) != 2 {
		return 0, fmt.Errorf("ke record: code body must be 2 bytes, got %d", len(body))
	}
	return binary.BigEndian.Uint16(body), nil
}

func decodeUint16List(body []byte) ([]uint16, error) {
	if len(body)%2 != 0 {
		return nil, fmt.Errorf("ke record: body length %d not a multiple of 2", len(body))
	}
	vals := make([]uint16, len(body)/2)
	for i := range vals {
		vals[i] = binary.BigEndian.Uint16(body[2*i:])
	}
	return vals, nil
}
