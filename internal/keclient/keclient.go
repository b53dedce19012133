// Package keclient implements the NTS-KE client handshake (spec.md §4.4):
// TLS 1.3 with ALPN ntske/1 over TCP, followed by a fixed client record
// sequence and accumulation of the server's reply.
package keclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cvsouth/nts-go/internal/ke/record"
	"github.com/cvsouth/nts-go/internal/resolver"
	"github.com/cvsouth/nts-go/internal/wireaead"
)

const alpnProtocol = "ntske/1"

// Timeout is the fixed connect/handshake/read/write deadline spec.md §4.4
// mandates.
const Timeout = 15 * time.Second

// Keys is the pair of directional NTS keys exported from the TLS session.
type Keys struct {
	C2S [32]byte
	S2C [32]byte
}

// Establishment is the result of a completed KE exchange, handed to the NTP
// client (spec.md §2 "NtsEstablishment").
type Establishment struct {
	Keys       Keys
	Cookies    [][]byte
	NextServer string
	NextPort   uint16
}

// Config configures a KE exchange.
type Config struct {
	Host       string
	Port       int
	Family     resolver.Family
	TrustRoots *x509.CertPool // nil uses platform roots
	Logger     *slog.Logger
}

// Exchange performs the full NTS-KE handshake against cfg.Host and returns
// the resulting keys, cookies, and next-hop NTP server/port.
func Exchange(ctx context.Context, cfg Config) (Establishment, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hostport := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := &net.Dialer{Timeout: Timeout}
	logger.Info("connecting to KE server", "addr", hostport)
	tcpConn, err := dialer.DialContext(ctx, dialNetwork(cfg.Family), hostport)
	if err != nil {
		return Establishment{}, fmt.Errorf("keclient: tcp dial: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName: cfg.Host,
		NextProtos: []string{alpnProtocol},
		RootCAs:    cfg.TrustRoots,
		MinVersion: tls.VersionTLS13,
	}

	tlsConn := tls.Client(tcpConn, tlsConfig)
	if err := tlsConn.SetDeadline(time.Now().Add(Timeout)); err != nil {
		_ = tlsConn.Close()
		return Establishment{}, fmt.Errorf("keclient: set deadline: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tlsConn.Close()
		return Establishment{}, fmt.Errorf("keclient: tls handshake: %w", err)
	}
	defer func() { _ = tlsConn.Close() }()

	state := tlsConn.ConnectionState()
	if state.NegotiatedProtocol != alpnProtocol {
		return Establishment{}, fmt.Errorf("keclient: server did not negotiate %s", alpnProtocol)
	}
	logger.Debug("tls established", "alpn", state.NegotiatedProtocol)

	if err := sendRequest(tlsConn); err != nil {
		return Establishment{}, err
	}

	acc, err := record.ReadUntilEndOfMessage(bufio.NewReader(tlsConn))
	if err != nil {
		return Establishment{}, fmt.Errorf("keclient: read response: %w", err)
	}

	keys, err := exportKeys(state)
	if err != nil {
		return Establishment{}, err
	}

	est := Establishment{
		Keys:       keys,
		Cookies:    acc.Cookies,
		NextServer: cfg.Host,
		NextPort:   123,
	}
	if acc.HasServer {
		est.NextServer = acc.Server
	}
	if acc.HasPort {
		est.NextPort = acc.Port
	}
	return est, nil
}

func sendRequest(w *tls.Conn) error {
	records := []record.Record{
		record.NextProtocol(0),
		record.AeadAlgorithm(wireaead.AlgorithmID),
		record.EndOfMessage(),
	}
	for _, r := range records {
		if err := record.WriteRecord(w, r); err != nil {
			return fmt.Errorf("keclient: write request: %w", err)
		}
	}
	return nil
}

// exportKeys derives the directional NTS keys via the TLS exporter
// (spec.md §3 NtsKeys).
func exportKeys(state tls.ConnectionState) (Keys, error) {
	const label = "EXPORTER-network-time-security/1"
	var keys Keys

	c2s, err := state.ExportKeyingMaterial(label, []byte{0, 0, 0, 15, 0}, 32)
	if err != nil {
		return Keys{}, fmt.Errorf("keclient: export c2s key: %w", err)
	}
	s2c, err := state.ExportKeyingMaterial(label, []byte{0, 0, 0, 15, 1}, 32)
	if err != nil {
		return Keys{}, fmt.Errorf("keclient: export s2c key: %w", err)
	}
	copy(keys.C2S[:], c2s)
	copy(keys.S2C[:], s2c)
	return keys, nil
}

func dialNetwork(family resolver.Family) string {
	switch family {
	case resolver.FamilyIPv4:
		return "tcp4"
	case resolver.FamilyIPv6:
		return "tcp6"
	default:
		return "tcp"
	}
}
