package ntpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cvsouth/nts-go/internal/ntptime"
	"github.com/cvsouth/nts-go/internal/wire"
)

// UpstreamPollInterval is the fixed cadence of the background clock-refresh
// task (spec.md §4.7 "Upstream tracking").
const UpstreamPollInterval = time.Second

// upstreamTimeout bounds one upstream send+receive round trip.
const upstreamTimeout = 2 * time.Second

// TrackUpstream sends a bare NTP client packet to addr every
// UpstreamPollInterval and atomically updates state from the response,
// until ctx is cancelled. Failures are logged and never stop the loop.
func TrackUpstream(ctx context.Context, addr string, state *State, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(UpstreamPollInterval)
	defer ticker.Stop()

	for {
		if err := pollUpstream(addr, state); err != nil {
			logger.Warn("upstream poll failed, retaining last known state", "addr", addr, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func pollUpstream(addr string, state *State) error {
	conn, err := net.DialTimeout("udp", addr, upstreamTimeout)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	req := wire.Header{Mode: wire.ModeClient, Version: 4, Precision: 0x20, TransmitTime: ntptime.FromTime(time.Now())}
	if err := conn.SetDeadline(time.Now().Add(upstreamTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write(req.Encode()); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	buf := make([]byte, wire.HeaderLen)
	if _, err := conn.Read(buf); err != nil {
		return fmt.Errorf("receive response: %w", err)
	}
	resp, err := wire.DecodeHeader(buf)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	state.Update(time.Now(), resp.Leap, resp.Stratum, resp.Poll, resp.Precision, resp.RootDelay, resp.RootDispersion, resp.ReferenceID, resp.ReferenceTime)
	return nil
}
