// Package wire implements the NTPv4 wire codec: the fixed 48-byte header
// (RFC 5905 §7.3) and 4-byte-aligned extension fields (RFC 5905 §7.5).
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/cvsouth/nts-go/internal/ntptime"
)

// HeaderLen is the fixed size of an NTP header in octets.
const HeaderLen = 48

// Leap is the two-bit leap indicator.
type Leap uint8

const (
	LeapNone Leap = iota
	LeapPositive
	LeapNegative
	LeapUnknown
)

// Mode is the three-bit NTP mode field. Values this implementation never
// produces (symmetric, broadcast) still decode; only Client is accepted by
// the server request path.
type Mode uint8

const (
	ModeReserved Mode = iota
	ModeSymmetricActive
	ModeSymmetricPassive
	ModeClient
	ModeServer
	ModeBroadcast
	ModeControl
	ModePrivate
	ModeInvalid Mode = 0xff
)

// Header is the fixed 48-byte NTPv4 header.
type Header struct {
	Leap           Leap
	Version        uint8
	Mode           Mode
	Stratum        uint8
	Poll           int8
	Precision      int8
	RootDelay      ntptime.Short
	RootDispersion ntptime.Short
	ReferenceID    [4]byte
	ReferenceTime  ntptime.Timestamp
	OriginTime     ntptime.Timestamp
	ReceiveTime    ntptime.Timestamp
	TransmitTime   ntptime.Timestamp
}

// Encode serializes the header into a fresh 48-byte buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = byte(leapByte(h.Leap)<<6) | byte((h.Version<<3)&0x38) | byte(modeByte(h.Mode)&0x07)
	buf[1] = h.Stratum
	buf[2] = byte(h.Poll)
	buf[3] = byte(h.Precision)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.RootDelay))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.RootDispersion))
	copy(buf[12:16], h.ReferenceID[:])
	putTimestamp(buf[16:24], h.ReferenceTime)
	putTimestamp(buf[24:32], h.OriginTime)
	putTimestamp(buf[32:40], h.ReceiveTime)
	putTimestamp(buf[40:48], h.TransmitTime)
	return buf
}

// DecodeHeader parses the first 48 bytes of buf as an NTP header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("decode header: buffer too short: %d bytes", len(buf))
	}
	var h Header
	h.Leap = decodeLeap(buf[0] >> 6)
	h.Version = (buf[0] >> 3) & 0x07
	h.Mode = decodeMode(buf[0] & 0x07)
	h.Stratum = buf[1]
	h.Poll = int8(buf[2])
	h.Precision = int8(buf[3])
	h.RootDelay = ntptime.Short(binary.BigEndian.Uint32(buf[4:8]))
	h.RootDispersion = ntptime.Short(binary.BigEndian.Uint32(buf[8:12]))
	copy(h.ReferenceID[:], buf[12:16])
	h.ReferenceTime = getTimestamp(buf[16:24])
	h.OriginTime = getTimestamp(buf[24:32])
	h.ReceiveTime = getTimestamp(buf[32:40])
	h.TransmitTime = getTimestamp(buf[40:48])
	return h, nil
}

func putTimestamp(buf []byte, ts ntptime.Timestamp) {
	binary.BigEndian.PutUint32(buf[0:4], ts.Seconds)
	binary.BigEndian.PutUint32(buf[4:8], ts.Fraction)
}

func getTimestamp(buf []byte) ntptime.Timestamp {
	return ntptime.Timestamp{
		Seconds:  binary.BigEndian.Uint32(buf[0:4]),
		Fraction: binary.BigEndian.Uint32(buf[4:8]),
	}
}

func leapByte(l Leap) uint8 {
	switch l {
	case LeapNone:
		return 0
	case LeapPositive:
		return 1
	case LeapNegative:
		return 2
	default:
		return 3
	}
}

func decodeLeap(b uint8) Leap {
	switch b & 0x03 {
	case 0:
		return LeapNone
	case 1:
		return LeapPositive
	case 2:
		return LeapNegative
	default:
		return LeapUnknown
	}
}

func modeByte(m Mode) uint8 {
	if m > ModeControl {
		return 0
	}
	return uint8(m)
}

func decodeMode(b uint8) Mode {
	switch b & 0x07 {
	case 1:
		return ModeSymmetricActive
	case 2:
		return ModeSymmetricPassive
	case 3:
		return ModeClient
	case 4:
		return ModeServer
	case 5:
		return ModeBroadcast
	default:
		return ModeInvalid
	}
}
