// Package iptransport implements the client-side IP transport of §4.5:
// a connected UDP socket used to send a client's queued events and PINGs
// and to receive the server's ACK frames, with timeout-based connectivity
// loss detection. Grounded on the connected-UDP dial/deadline/read shape of
// tools/twamp/pkg/light/sender.go, adapted from one-shot RTT probing to a
// persistent connection the worker drives every tick.
package iptransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrNotConnected is returned by Send/Recv when Dial has not succeeded.
var ErrNotConnected = errors.New("iptransport: not connected")

// Transport is a connected UDP socket to the alarm server.
type Transport struct {
	addr string

	mu   sync.Mutex
	conn *net.UDPConn
}

// New returns an unconnected Transport for addr (host:port).
func New(addr string) *Transport {
	return &Transport{addr: addr}
}

// Dial opens the UDP socket. UDP is connectionless on the wire, but a
// "connected" socket lets net.UDPConn reject traffic from the wrong peer
// and lets Write/Read omit the address on every call, matching the
// teacher's dialer.Dial shape.
func (t *Transport) Dial(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("iptransport: resolve %s: %w", t.addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("iptransport: dial %s: %w", t.addr, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Close closes the socket, if open.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send writes frame to the socket, honoring ctx's deadline.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("iptransport: set write deadline: %w", err)
		}
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("iptransport: write: %w", err)
	}
	return nil
}

// Recv reads one ACK frame, honoring ctx's deadline. A timeout surfaces as
// context.DeadlineExceeded so the caller can distinguish it from a hard
// socket error; the client worker leaves a timeout to its silent-ACK check
// (probe after 2x, declare loss after 3x the ping interval).
func (t *Transport) Recv(ctx context.Context, buf []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return 0, fmt.Errorf("iptransport: set read deadline: %w", err)
		}
	} else {
		// No caller deadline: still bound the read so a dead peer can't
		// wedge the worker forever.
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return 0, fmt.Errorf("iptransport: set read deadline: %w", err)
		}
	}

	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, context.DeadlineExceeded
		}
		return 0, fmt.Errorf("iptransport: read: %w", err)
	}
	return n, nil
}

// Connected reports whether Dial has succeeded and Close has not since run.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}
