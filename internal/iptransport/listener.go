package iptransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Datagram is one received UDP packet, bundled with the address it came
// from so the server dispatcher can reply to the right client.
type Datagram struct {
	Payload []byte
	Addr    *net.UDPAddr
}

// Listener is the server's single UDP socket (§4.8: "a single listener
// dispatches to per-client reconcilers"). Grounded on the
// deadline-poll-loop shape of
// controlplane/agent/internal/telemetry/collector.go's listenLoop.
type Listener struct {
	log  *slog.Logger
	conn *net.UDPConn
}

// Listen binds addr (host:port) and returns a ready Listener.
func Listen(log *slog.Logger, addr string) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("iptransport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("iptransport: listen %s: %w", addr, err)
	}
	return &Listener{log: log, conn: conn}, nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Addr returns the bound local address, e.g. for tests that bind to
// 127.0.0.1:0 and need the ephemeral port the kernel assigned.
func (l *Listener) Addr() string {
	return l.conn.LocalAddr().String()
}

// Run reads datagrams until ctx is canceled, delivering each to handle.
// The read deadline is re-armed every iteration so ctx cancellation is
// observed within at most pollInterval.
func (l *Listener) Run(ctx context.Context, pollInterval time.Duration, handle func(Datagram)) error {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("iptransport: set read deadline: %w", err)
		}

		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Warn("iptransport: read error", "err", err)
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		handle(Datagram{Payload: payload, Addr: addr})
	}
}

// Reply sends payload back to addr.
func (l *Listener) Reply(addr *net.UDPAddr, payload []byte) error {
	if _, err := l.conn.WriteToUDP(payload, addr); err != nil {
		return fmt.Errorf("iptransport: write to %s: %w", addr, err)
	}
	return nil
}
