package record

import (
	"bufio"
	"errors"
	"fmt"
)

// ErrProtocol is returned when the peer sends an Error record or an unknown
// record with the critical bit set.
var ErrProtocol = errors.New("ke record: protocol error")

// Accumulated collects the records seen across one NTS-KE exchange, in the
// shape both the client (reading the server's reply) and the server (reading
// the client's request) need.
type Accumulated struct {
	NextProtocols []uint16
	AeadSchemes   []uint16
	Cookies       [][]byte
	Server        string
	Port          uint16
	HasServer     bool
	HasPort       bool
}

// ReadUntilEndOfMessage reads records from r, applying RFC 8915's
// critical-bit policy, until EndOfMessage or a fatal error. An unknown record
// type aborts the exchange if its critical bit is set and is otherwise
// silently discarded.
func ReadUntilEndOfMessage(r *bufio.Reader) (Accumulated, error) {
	var acc Accumulated

	for {
		rec, err := ReadRecord(r)
		if err != nil {
			return Accumulated{}, err
		}

		switch rec.Type {
		case TypeEndOfMessage:
			return acc, nil

		case TypeError:
			code, _ := decodeCode(rec.Body)
			return Accumulated{}, fmt.Errorf("%w: peer sent error code %d", ErrProtocol, code)

		case TypeWarning:
			// Warnings don't abort the exchange; nothing to accumulate.

		case TypeNextProtocol:
			protos, err := DecodeNextProtocol(rec.Body)
			if err != nil {
				return Accumulated{}, err
			}
			acc.NextProtocols = protos

		case TypeAeadAlgorithm:
			schemes, err := DecodeAeadAlgorithm(rec.Body)
			if err != nil {
				return Accumulated{}, err
			}
			acc.AeadSchemes = schemes

		case TypeNewCookie:
			acc.Cookies = append(acc.Cookies, rec.Body)

		case TypeServer:
			acc.Server = string(rec.Body)
			acc.HasServer = true

		case TypePort:
			port, err := DecodePort(rec.Body)
			if err != nil {
				return Accumulated{}, err
			}
			acc.Port = port
			acc.HasPort = true

		default:
			if rec.Critical {
				return Accumulated{}, fmt.Errorf("%w: unknown critical record type %d", ErrProtocol, rec.Type)
			}
			// Unknown, non-critical: ignore.
		}
	}
}
