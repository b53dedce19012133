// Package keserver implements the NTS-KE server listener (spec.md §4.5):
// one accept loop per bind address, each connection handled on its own
// goroutine behind a connection-count semaphore.
package keserver

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cvsouth/nts-go/internal/cookie"
	"github.com/cvsouth/nts-go/internal/ke/record"
	"github.com/cvsouth/nts-go/internal/keyring"
	"github.com/cvsouth/nts-go/internal/metrics"
	"github.com/cvsouth/nts-go/internal/wireaead"
)

const maxConns = 1024

const alpnProtocol = "ntske/1"

// cookiesPerResponse is the batch size of fresh cookies sealed into every
// successful KE response (RFC 8915 §5.1, spec.md Open Questions).
const cookiesPerResponse = 8

// Server is an NTS-KE listener bound to one address.
type Server struct {
	Addr          string
	TLSConfig     *tls.Config // must carry a certificate; ALPN/MinVersion are overridden
	Ring          *keyring.KeyRing
	NextPort      uint16
	ConnTimeout   time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics

	ln  net.Listener
	sem chan struct{}
}

// ListenAndServe binds s.Addr and serves until Accept fails (typically
// because the listener was closed).
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("keserver: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Accept fails.
func (s *Server) Serve(ln net.Listener) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.ConnTimeout == 0 {
		s.ConnTimeout = 30 * time.Second
	}

	tlsConfig := s.TLSConfig.Clone()
	tlsConfig.NextProtos = []string{alpnProtocol}
	tlsConfig.MinVersion = tls.VersionTLS13
	tlsConfig.ClientAuth = tls.NoClientCert

	s.ln = ln
	s.sem = make(chan struct{}, maxConns)
	s.Logger.Info("NTS-KE server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("keserver: accept: %w", err)
		}
		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			s.handleConn(tls.Server(conn, tlsConfig))
		}()
	}
}

// Close stops the listener. In-flight connections are not interrupted.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handleConn(conn *tls.Conn) {
	defer func() { _ = conn.Close() }()
	start := time.Now()

	if err := conn.SetDeadline(start.Add(s.ConnTimeout)); err != nil {
		s.Logger.Warn("set deadline", "error", err)
		s.Metrics.RecordKeExchange("tls_error", time.Since(start).Seconds())
		return
	}
	if err := conn.Handshake(); err != nil {
		s.Logger.Warn("tls handshake failed", "error", err)
		s.Metrics.RecordKeExchange("tls_error", time.Since(start).Seconds())
		return
	}

	state := conn.ConnectionState()
	if state.NegotiatedProtocol != alpnProtocol {
		s.Logger.Warn("client did not negotiate ntske/1", "negotiated", state.NegotiatedProtocol)
		s.Metrics.RecordKeExchange("tls_error", time.Since(start).Seconds())
		return
	}

	acc, err := record.ReadUntilEndOfMessage(bufio.NewReader(conn))
	if err != nil {
		s.Logger.Warn("malformed or unknown-critical request", "error", err)
		s.Metrics.RecordKeExchange("protocol_error", time.Since(start).Seconds())
		return
	}
	_ = acc // client's own next-protocol/aead list is informational only; we always answer with NTPv4 + AES-SIV

	keys, err := exportKeys(state)
	if err != nil {
		s.Logger.Warn("key export failed", "error", err)
		s.Metrics.RecordKeExchange("tls_error", time.Since(start).Seconds())
		return
	}

	keyID, masterKey, ok := s.Ring.Latest()
	if !ok {
		s.Logger.Warn("key ring has no latest epoch yet")
		s.Metrics.RecordKeExchange("protocol_error", time.Since(start).Seconds())
		return
	}

	cookies := make([][]byte, 0, cookiesPerResponse)
	for i := 0; i < cookiesPerResponse; i++ {
		sealed, err := cookie.Seal(cookie.Keys{C2S: keys.C2S, S2C: keys.S2C}, masterKey, keyID)
		if err != nil {
			s.Logger.Warn("cookie seal failed", "error", err)
			s.Metrics.RecordKeExchange("protocol_error", time.Since(start).Seconds())
			return
		}
		cookies = append(cookies, sealed)
	}

	if err := s.sendResponse(conn, cookies); err != nil {
		s.Logger.Warn("write response failed", "error", err)
		s.Metrics.RecordKeExchange("tls_error", time.Since(start).Seconds())
		return
	}

	s.Metrics.RecordKeExchange("success", time.Since(start).Seconds())
}

func (s *Server) sendResponse(conn *tls.Conn, cookies [][]byte) error {
	records := make([]record.Record, 0, 3+len(cookies)+2)
	records = append(records,
		record.NextProtocol(0),
		record.AeadAlgorithm(wireaead.AlgorithmID),
	)
	for _, c := range cookies {
		records = append(records, record.NewCookie(c))
	}
	records = append(records, record.Port(s.NextPort, true), record.EndOfMessage())

	// All records are written, or none: buffer first so a mid-stream write
	// failure never leaves a partial response on the wire.
	var buf []byte
	for _, r := range records {
		buf = append(buf, r.Encode()...)
	}
	_, err := conn.Write(buf)
	return err
}

type ntsKeys struct {
	C2S [32]byte
	S2C [32]byte
}

func exportKeys(state tls.ConnectionState) (ntsKeys, error) {
	const label = "EXPORTER-network-time-security/1"
	var keys ntsKeys

	c2s, err := state.ExportKeyingMaterial(label, []byte{0, 0, 0, 15, 0}, 32)
	if err != nil {
		return ntsKeys{}, fmt.Errorf("keserver: export c2s key: %w", err)
	}
	s2c, err := state.ExportKeyingMaterial(label, []byte{0, 0, 0, 15, 1}, 32)
	if err != nil {
		return ntsKeys{}, fmt.Errorf("keserver: export s2c key: %w", err)
	}
	copy(keys.C2S[:], c2s)
	copy(keys.S2C[:], s2c)
	return keys, nil
}
