// Package udpsock wraps kernel receive timestamps (SCM_TIMESTAMP) on a UDP
// socket (spec.md §4.7). Only the timestamp control message is requested;
// packet-info messages are not, so a datagram's destination address is not
// recovered and replies go out from the socket's bound address.
package udpsock

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// EnableKernelTimestamps turns on SO_TIMESTAMP so every subsequent
// ReadWithTimestamp call can recover the kernel's receive time for that
// datagram, rather than substituting time.Now() after the fact.
func EnableKernelTimestamps(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("udpsock: syscall conn: %w", err)
	}

	var sockErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1)
	})
	if ctrlErr != nil {
		return fmt.Errorf("udpsock: control: %w", ctrlErr)
	}
	if sockErr != nil {
		return fmt.Errorf("udpsock: setsockopt SO_TIMESTAMP: %w", sockErr)
	}
	return nil
}

// oobBufSize is generous headroom for a single SCM_TIMESTAMP control
// message.
const oobBufSize = 64

// ReadWithTimestamp reads one datagram into buf and returns the kernel's
// receive timestamp alongside the sender's address. If the kernel didn't
// attach a timestamp (disabled, or an unsupported platform), ts is the zero
// time and the caller should fall back to time.Now().
func ReadWithTimestamp(conn *net.UDPConn, buf []byte) (n int, addr *net.UDPAddr, ts time.Time, err error) {
	oob := make([]byte, oobBufSize)
	n, oobn, _, addr, err := conn.ReadMsgUDP(buf, oob)
	if err != nil {
		return 0, nil, time.Time{}, fmt.Errorf("udpsock: read msg: %w", err)
	}

	ts = parseTimestamp(oob[:oobn])
	return n, addr, ts, nil
}

func parseTimestamp(oob []byte) time.Time {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return time.Time{}
	}
	for _, msg := range msgs {
		if msg.Header.Level != unix.SOL_SOCKET || msg.Header.Type != unix.SCM_TIMESTAMP {
			continue
		}
		// SCM_TIMESTAMP carries a struct timeval: two platform-word-sized
		// fields (sec, usec). On every platform this module targets that's
		// two 8-byte little-endian words.
		if len(msg.Data) < 16 {
			continue
		}
		sec := int64(binary.LittleEndian.Uint64(msg.Data[0:8]))
		usec := int64(binary.LittleEndian.Uint64(msg.Data[8:16]))
		return time.Unix(sec, usec*1000)
	}
	return time.Time{}
}
