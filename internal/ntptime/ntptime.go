// Package ntptime converts between Go's time.Time and the 64-bit fixed-point
// NTP timestamp format (RFC 5905 §6), and between NTP short (16.16) fixed
// point used for root dispersion.
package ntptime

import "time"

// UnixToNTPEpoch is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const UnixToNTPEpoch = 2208988800

const twoPow32 = 4294967296.0

// Timestamp is a 64-bit NTP timestamp: seconds since 1900-01-01 in the top
// 32 bits, binary fraction of a second in the low 32 bits.
type Timestamp struct {
	Seconds  uint32
	Fraction uint32
}

// FromTime converts a wall-clock time to its NTP timestamp representation.
func FromTime(t time.Time) Timestamp {
	secs := t.Unix() + UnixToNTPEpoch
	frac := uint64(t.Nanosecond()) * twoPow32 / 1e9
	return Timestamp{Seconds: uint32(secs), Fraction: uint32(frac)}
}

// Float returns the timestamp as a float64 count of seconds since 1900-01-01,
// the representation used when computing clock offsets.
func (ts Timestamp) Float() float64 {
	return float64(ts.Seconds) + float64(ts.Fraction)/twoPow32
}

// Time converts the timestamp back to a wall-clock time.
func (ts Timestamp) Time() time.Time {
	secs := int64(ts.Seconds) - UnixToNTPEpoch
	nsec := int64(float64(ts.Fraction) * 1e9 / twoPow32)
	return time.Unix(secs, nsec).UTC()
}

// IsZero reports whether the timestamp is the NTP "unset" value.
func (ts Timestamp) IsZero() bool {
	return ts.Seconds == 0 && ts.Fraction == 0
}

// Short is an NTP short format (16.16 fixed point) value, used for root
// delay and root dispersion fields.
type Short uint32

// NewShort builds a Short from a floating point second count.
func NewShort(seconds float64) Short {
	if seconds < 0 {
		seconds = 0
	}
	return Short(seconds * 65536.0)
}

// Seconds returns the Short value as a float64 count of seconds.
func (s Short) Seconds() float64 {
	return float64(s) / 65536.0
}
