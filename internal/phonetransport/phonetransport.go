// Package phonetransport implements the DTMF-over-phone-call fallback path
// of §4.6, used when the client's IP transport has been flagged down.
// There is no teacher file that models DTMF directly — the closest shape
// in the corpus is the dial/retry-then-handshake/timeout-bounded-I/O loop
// of controlplane/telemetry/internal/gnmitunnel/client.go, generalized here
// from a gRPC tunnel session to a telephony.Channel session, and its use of
// cenkalti/backoff for connect retries.
package phonetransport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/internal/protocol"
	"github.com/malbeclabs/alarmcore/internal/telephony"
)

// Config bounds the dial, handshake, and ack timeouts used per §4.6.
type Config struct {
	DialString     string
	AnswerTimeout  time.Duration
	ReadyTimeout   time.Duration // step 2: wait for the server's ready chunk
	AckTimeout     time.Duration // step 6: wait for the batch ack
	IdleLineHold   time.Duration // how long to hold an otherwise-empty call open before hanging up
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int
}

func (c *Config) setDefaults() {
	if c.AnswerTimeout <= 0 {
		c.AnswerTimeout = 30 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 60 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 60 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Transport drives one client's phone fallback sessions.
type Transport struct {
	log *slog.Logger
	tel telephony.Telephony
	cfg Config
}

// New returns a Transport that places calls via tel.
func New(log *slog.Logger, tel telephony.Telephony, cfg Config) *Transport {
	cfg.setDefaults()
	return &Transport{log: log, tel: tel, cfg: cfg}
}

// Session is an established call, ready for the handshake + event loop.
type Session struct {
	ch  telephony.Channel
	cfg Config
}

// Dial places the call and waits for answer, retrying with backoff on
// failure per §7 TransportPhoneError ("tear down call, keep queue, retry
// later").
func (t *Transport) Dial(ctx context.Context) (*Session, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.InitialBackoff
	bo.MaxInterval = t.cfg.MaxBackoff

	session, err := backoff.Retry(ctx, func() (*Session, error) {
		ch, err := t.tel.Dial(ctx, t.cfg.DialString)
		if err != nil {
			return nil, fmt.Errorf("phonetransport: dial: %w", err)
		}
		if err := ch.WaitAnswer(ctx, t.cfg.AnswerTimeout); err != nil {
			ch.HangUp()
			return nil, fmt.Errorf("phonetransport: wait answer: %w", err)
		}
		return &Session{ch: ch, cfg: t.cfg}, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(t.cfg.MaxRetries)),
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Handshake waits for the server's ready signal — a single '*'-terminated
// empty chunk — then sends the client id and PIN back to back with no
// intervening acks (§4.6 steps 2-3).
func (s *Session) Handshake(ctx context.Context, clientID model.ClientID, pin string) error {
	if _, err := s.ch.ReadFramed(ctx, '*', s.cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("phonetransport: wait for server ready: %w", err)
	}
	if err := s.ch.SendDTMF(ctx, string(clientID)+"*"); err != nil {
		return fmt.Errorf("phonetransport: send client id: %w", err)
	}
	if err := s.ch.SendDTMF(ctx, pin+"*"); err != nil {
		return fmt.Errorf("phonetransport: send pin: %w", err)
	}
	return nil
}

// SendEvent transmits one encoded event frame. The server acks the whole
// batch once, via Finish, not per event (§4.6 steps 4-6).
func (s *Session) SendEvent(ctx context.Context, frame []byte) error {
	if err := s.ch.SendDTMF(ctx, string(frame)); err != nil {
		return fmt.Errorf("phonetransport: send event: %w", err)
	}
	return nil
}

// Finish sends the final standalone '#' terminator and reads the single
// batch ACK that follows it (§4.6 steps 5-6).
func (s *Session) Finish(ctx context.Context) (uint32, error) {
	if err := s.ch.SendDTMF(ctx, "#"); err != nil {
		return 0, fmt.Errorf("phonetransport: send terminator: %w", err)
	}
	raw, err := s.ch.ReadFramed(ctx, '#', s.cfg.AckTimeout)
	if err != nil {
		return 0, fmt.Errorf("phonetransport: read ack: %w", err)
	}
	ack, err := protocol.DecodePhoneAck(raw)
	if err != nil {
		return 0, fmt.Errorf("phonetransport: decode ack: %w", err)
	}
	return ack, nil
}

// Idle parks the call into autoservice without hanging up, for use between
// bursts of queued events while still within IdleLineHold (§4.6: hold the
// line briefly rather than redial for every event).
func (s *Session) Idle(ctx context.Context) error {
	return s.ch.ParkAutoservice(ctx)
}

// Close tears down the call.
func (s *Session) Close() error {
	return s.ch.HangUp()
}
