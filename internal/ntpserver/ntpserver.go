// Package ntpserver implements the NTS-authenticated NTP server (spec.md
// §4.7): one blocking-receive loop per bind address, stateless per
// datagram beyond what the KeyRing and ServerState provide.
package ntpserver

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cvsouth/nts-go/internal/cookie"
	"github.com/cvsouth/nts-go/internal/keyring"
	"github.com/cvsouth/nts-go/internal/metrics"
	"github.com/cvsouth/nts-go/internal/ntptime"
	"github.com/cvsouth/nts-go/internal/udpsock"
	"github.com/cvsouth/nts-go/internal/wire"
	"github.com/cvsouth/nts-go/internal/wireaead"
)

// kissOfDeathRefID is the ASCII reference id a Kiss-of-Death response
// carries (spec.md §4.7).
var kissOfDeathRefID = [4]byte{'N', 'T', 'S', 'N'}

// minPlaceholderBody is the minimum NtsCookiePlaceholder body size the
// server will answer with a fresh cookie, to prevent using NTS as an
// amplification vector (spec.md §4.7 step 8).
const minPlaceholderBody = 100

const datagramBufSize = 1024

// Server receives and answers NTP/NTS datagrams on one bound address.
type Server struct {
	Addr    string
	State   *State
	Ring    *keyring.KeyRing
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	conn *net.UDPConn
}

// ListenAndServe binds s.Addr and serves datagrams until the socket is
// closed.
func (s *Server) ListenAndServe() error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", s.Addr)
	if err != nil {
		return fmt.Errorf("ntpserver: resolve %s: %w", s.Addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("ntpserver: listen: %w", err)
	}
	if err := udpsock.EnableKernelTimestamps(conn); err != nil {
		s.Logger.Warn("kernel timestamps unavailable, falling back to time.Now", "error", err)
	}
	s.conn = conn
	s.Logger.Info("NTP server listening", "addr", conn.LocalAddr().String())

	buf := make([]byte, datagramBufSize)
	for {
		n, peer, kernelTS, err := udpsock.ReadWithTimestamp(conn, buf)
		if err != nil {
			return fmt.Errorf("ntpserver: recvmsg: %w", err)
		}
		if kernelTS.IsZero() {
			kernelTS = time.Now()
		}

		resp, ok := s.handleDatagram(buf[:n], kernelTS)
		if !ok {
			continue
		}
		if _, err := conn.WriteToUDP(resp, peer); err != nil {
			s.Logger.Warn("write response failed", "error", err)
		}
	}
}

// Close stops the listener.
func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// handleDatagram implements spec.md §4.7 steps 1-8. ok is false when the
// request is silently dropped (mangled packet, wrong mode).
func (s *Server) handleDatagram(req []byte, kernelTS time.Time) (resp []byte, ok bool) {
	header, err := wire.DecodeHeader(req)
	if err != nil {
		s.Logger.Debug("mangled packet", "error", err)
		s.Metrics.RecordMangledPacket()
		return nil, false
	}
	if header.Mode != wire.ModeClient {
		s.Logger.Debug("not client mode", "mode", header.Mode)
		return nil, false
	}

	snapshot := s.State.Snapshot(time.Now())
	now := time.Now()

	if len(req) <= wire.HeaderLen {
		// Bare header, no extensions: answer with a bare, unsealed response.
		return encodePlainResponse(snapshot, header, kernelTS, now), true
	}

	exts, err := wire.DecodePacketExtensions(req[wire.HeaderLen:])
	if err != nil {
		s.Logger.Debug("malformed extensions", "error", err)
		return nil, false
	}

	cookieExt, hasCookie := findExtension(exts, wire.ExtNtsCookie)
	if !hasCookie {
		return encodePlainResponse(snapshot, header, kernelTS, now), true
	}

	keys, uid, placeholders, err := s.openRequest(req, cookieExt.Value)
	if err != nil {
		s.Logger.Debug("NTS request rejected, sending kiss-of-death", "error", err)
		s.Metrics.RecordKissOfDeath()
		s.Metrics.RecordNtpRequest("kiss_of_death")
		return encodeKissOfDeath(header, uid), true
	}

	s.Metrics.RecordNtpRequest("success")
	return s.encodeNtsResponse(snapshot, header, kernelTS, now, keys, uid, placeholders), true
}

func (s *Server) openRequest(req []byte, cookieValue []byte) (keys cookie.Keys, uid []byte, placeholders int, err error) {
	keyID, err := cookie.PeekKeyID(cookieValue)
	if err != nil {
		return cookie.Keys{}, nil, 0, err
	}
	masterKey, found := s.Ring.Lookup(keyID)
	if !found {
		return cookie.Keys{}, nil, 0, fmt.Errorf("ntpserver: cookie key id not in ring")
	}
	keys, err = cookie.Open(cookieValue, masterKey)
	if err != nil {
		return cookie.Keys{}, nil, 0, fmt.Errorf("ntpserver: cookie open: %w", err)
	}

	// c2s from the request's perspective decrypts the request. Placeholders
	// and the unique identifier both travel in the cleartext authenticated
	// extensions, not the encrypted ones (cfnts reads them off
	// query.auth_exts the same way).
	_, authExts, _, err := wireaead.Open(req, keys.C2S[:])
	if err != nil {
		return cookie.Keys{}, nil, 0, fmt.Errorf("ntpserver: authenticator open: %w", err)
	}

	for _, e := range authExts {
		if e.Type == wire.ExtUniqueIdentifier {
			uid = e.Value
		}
		if e.Type == wire.ExtNtsCookiePlaceholder && len(e.Value) >= minPlaceholderBody {
			placeholders++
		}
	}

	return keys, uid, placeholders, nil
}

func (s *Server) encodeNtsResponse(snapshot Snapshot, req wire.Header, kernelTS, now time.Time, keys cookie.Keys, uid []byte, placeholders int) []byte {
	respHeader := wire.Header{
		Leap:           snapshot.Leap,
		Version:        req.Version,
		Mode:           wire.ModeServer,
		Stratum:        snapshot.Stratum,
		Poll:           snapshot.Poll,
		Precision:      snapshot.Precision,
		RootDelay:      snapshot.RootDelay,
		RootDispersion: snapshot.RootDispersion,
		ReferenceID:    snapshot.ReferenceID,
		ReferenceTime:  snapshot.ReferenceTime,
		OriginTime:     req.TransmitTime,
		ReceiveTime:    ntptime.FromTime(kernelTS),
		TransmitTime:   ntptime.FromTime(now),
	}

	var authExts []wire.Extension
	if uid != nil {
		authExts = append(authExts, wire.Extension{Type: wire.ExtUniqueIdentifier, Value: uid})
	}

	keyID, masterKey, haveLatest := s.Ring.Latest()
	numFresh := placeholders + 1 // always replace the cookie consumed
	var encExts []wire.Extension
	if haveLatest {
		for i := 0; i < numFresh; i++ {
			sealed, err := cookie.Seal(keys, masterKey, keyID)
			if err != nil {
				s.Logger.Warn("cookie seal failed", "error", err)
				continue
			}
			encExts = append(encExts, wire.Extension{Type: wire.ExtNtsCookie, Value: sealed})
		}
	}

	// The c2s/s2c direction is swapped from the request's perspective: the
	// server seals with s2c so the client opens with the same key it used
	// to seal its request's counterpart.
	packet, err := wireaead.Seal(respHeader, authExts, encExts, keys.S2C[:])
	if err != nil {
		s.Logger.Warn("response seal failed", "error", err)
		return encodeKissOfDeath(req, uid)
	}
	return packet
}

func encodePlainResponse(snapshot Snapshot, req wire.Header, kernelTS, now time.Time) []byte {
	header := wire.Header{
		Leap:           snapshot.Leap,
		Version:        req.Version,
		Mode:           wire.ModeServer,
		Stratum:        snapshot.Stratum,
		Poll:           snapshot.Poll,
		Precision:      snapshot.Precision,
		RootDelay:      snapshot.RootDelay,
		RootDispersion: snapshot.RootDispersion,
		ReferenceID:    snapshot.ReferenceID,
		ReferenceTime:  snapshot.ReferenceTime,
		OriginTime:     req.TransmitTime,
		ReceiveTime:    ntptime.FromTime(kernelTS),
		TransmitTime:   ntptime.FromTime(now),
	}
	return header.Encode()
}

func encodeKissOfDeath(req wire.Header, uid []byte) []byte {
	header := wire.Header{
		Leap:        wire.LeapUnknown,
		Version:     req.Version,
		Mode:        wire.ModeServer,
		Stratum:     0,
		ReferenceID: kissOfDeathRefID,
		OriginTime:  req.TransmitTime,
	}
	buf := header.Encode()
	if uid != nil {
		ext := wire.Extension{Type: wire.ExtUniqueIdentifier, Value: uid}
		buf = append(buf, ext.Encode()...)
	}
	return buf
}

func findExtension(exts []wire.Extension, typ uint16) (wire.Extension, bool) {
	for _, e := range exts {
		if e.Type == typ {
			return e, true
		}
	}
	return wire.Extension{}, false
}
