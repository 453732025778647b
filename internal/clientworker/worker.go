package clientworker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/malbeclabs/alarmcore/internal/clock"
	"github.com/malbeclabs/alarmcore/internal/metrics"
	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/internal/protocol"
)

// ackTimeout bounds a single ACK read so the worker's poll loop is never
// wedged by a silent socket.
const ackTimeout = 200 * time.Millisecond

// Worker is the single cooperating task per client (§4.7), grounded on
// probingWorker's Start/Stop/IsRunning/reusable-timer shape
// (client/doublezerod/internal/probing/worker.go).
type Worker struct {
	log    *slog.Logger
	client *Client

	wg      sync.WaitGroup
	running atomic.Bool

	cancel   context.CancelFunc
	cancelMu sync.RWMutex
}

// New returns a Worker for client. Call Start to begin the run loop.
func New(log *slog.Logger, client *Client) *Worker {
	return &Worker{log: log, client: client}
}

// Start launches the worker's run loop if not already running.
func (w *Worker) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancelMu.Lock()
	w.cancel = cancel
	w.cancelMu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Run(ctx)
		w.running.Store(false)
	}()
}

// Stop cancels the worker (if running) and blocks until Run returns.
func (w *Worker) Stop() {
	w.cancelMu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.cancelMu.Unlock()
	w.wg.Wait()

	w.client.mu.Lock()
	session := w.client.phoneSession
	w.client.phoneSession = nil
	w.client.mu.Unlock()
	if session != nil {
		session.Close()
	}
	if w.client.IP != nil {
		w.client.IP.Close()
	}
}

// IsRunning reports whether Start was called and Run hasn't exited yet.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// Run is the worker's main loop (§4.7). It waits on the queue's wakeup
// channel, a poll-interval timer, and ctx cancellation.
func (w *Worker) Run(ctx context.Context) {
	c := w.client
	w.log.Info("client worker started", "client_id", c.ID)

	if c.IP != nil {
		if err := c.IP.Dial(ctx); err != nil {
			w.log.Warn("initial IP dial failed", "client_id", c.ID, "err", err)
			c.setIPConnected(false, c.Clock.Now())
		}
	}

	c.Emit(model.EventOkay, "", "")

	pollInterval := c.PingInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	wakeCh := c.Queue.Wake()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("client worker stopping", "client_id", c.ID)
			return

		case <-wakeCh:
			w.SendAll(ctx)

		case <-timer.C:
			w.PollTick(ctx)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pollInterval)
		}

		w.CheckBreach()
	}
}

// SendAll transmits every queued event over IP, best-effort, if currently
// connected (§4.7 step 1, §4.5 send_all). Socket failure flips
// ip_connected false.
func (w *Worker) SendAll(ctx context.Context) {
	c := w.client
	if c.IP == nil || !c.IPConnected() {
		return
	}

	for _, item := range c.Queue.Snapshot() {
		if err := c.IP.Send(ctx, item.Payload); err != nil {
			w.log.Warn("IP send failed", "client_id", c.ID, "seq", item.Seq, "err", err)
			if c.setIPConnected(false, c.Clock.Now()) {
				metrics.TransportFailovers.WithLabelValues(string(c.ID)).Inc()
			}
			return
		}
		c.Queue.IncrementAttempts(item.Seq)
	}

	w.RecvAck(ctx)
}

// RecvAck reads one ACK datagram and applies it (§4.5 recv_ack). A timeout
// is not itself an error — absence of an ACK is handled by the
// connectivity-loss timing logic in PollTick, not here.
func (w *Worker) RecvAck(ctx context.Context) {
	c := w.client
	if c.IP == nil {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	buf := make([]byte, 64)
	n, err := c.IP.Recv(rctx, buf)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return
		}
		w.log.Warn("IP recv failed", "client_id", c.ID, "err", err)
		if c.setIPConnected(false, c.Clock.Now()) {
			metrics.TransportFailovers.WithLabelValues(string(c.ID)).Inc()
		}
		return
	}

	nextSeq, hasSeq, err := protocol.DecodeIPAck(buf[:n])
	if err != nil {
		w.log.Warn("malformed ACK", "client_id", c.ID, "err", err)
		return
	}

	now := c.Clock.Now()
	c.mu.Lock()
	c.lastIPAck = now
	c.probeSent = false
	c.mu.Unlock()

	if c.setIPConnected(true, now) {
		c.Emit(model.EventInternetRestored, "", "")
	}

	if hasSeq {
		removed := c.Queue.Purge(nextSeq)
		if removed > 0 {
			metrics.QueueDepth.WithLabelValues(string(c.ID)).Set(float64(c.Queue.Len()))
		}
	}
}

// CheckBreach applies §4.3's TRIGGERED -> BREACH timer rule and emits the
// inferred BREACH event on transition.
func (w *Worker) CheckBreach() {
	c := w.client
	now := c.Clock.Now()
	if c.Arming.CheckBreach(now) {
		metrics.BreachTransitions.WithLabelValues(string(c.ID)).Inc()
		c.Emit(model.EventBreach, "", "")
	}
}

// PollTick runs §4.7 step 4: the periodic silent-ACK probe, phone-transport
// invocation, proactive PING, and idle-phone-channel teardown.
func (w *Worker) PollTick(ctx context.Context) {
	c := w.client
	now := c.Clock.Now()

	if c.IP != nil && c.IPConnected() {
		w.checkSilentACK(ctx, now)
	}

	if !c.IPConnected() && c.PhoneDialString != "" && c.Phone != nil && c.Queue.Len() > 0 {
		w.runPhoneDelivery(ctx)
	}

	c.mu.Lock()
	lastPing := c.lastPingSent
	c.mu.Unlock()
	if c.IP != nil && now.Sub(lastPing) >= c.PingInterval/2 {
		w.sendPing(ctx, now)
	}

	w.tearDownIdlePhoneChannel(now)
}

// checkSilentACK implements §4.5's connectivity-loss-by-timeout inference:
// probe at 2x ping_interval of silence, declare disconnected at 3x.
func (w *Worker) checkSilentACK(ctx context.Context, now time.Time) {
	c := w.client
	c.mu.Lock()
	lastAck := c.lastIPAck
	probeSent := c.probeSent
	c.mu.Unlock()

	if lastAck.IsZero() {
		return
	}
	silence := now.Sub(lastAck)

	if silence >= c.PingInterval*3 {
		if c.setIPConnected(false, now) {
			metrics.TransportFailovers.WithLabelValues(string(c.ID)).Inc()
			c.Emit(model.EventInternetLost, "", "")
		}
		return
	}

	if silence >= c.PingInterval*2 && !probeSent {
		w.sendPing(ctx, now)
		c.mu.Lock()
		c.probeSent = true
		c.mu.Unlock()
	}
}

// sendPing transmits a bare PING directly over IP, best-effort, without
// consuming a sequence number (§4.4 rule 1).
func (w *Worker) sendPing(ctx context.Context, now time.Time) {
	c := w.client
	if c.IP == nil {
		return
	}

	mmss := clock.MMSS(c.Clock, now)
	frame := protocol.Encode(protocol.Fields{
		ClientID:  c.ID,
		PIN:       c.PIN,
		MMSS:      mmss,
		HasMMSS:   true,
		EventKind: model.EventPing,
	})

	if err := c.IP.Send(ctx, frame); err != nil {
		w.log.Warn("ping send failed", "client_id", c.ID, "err", err)
		c.setIPConnected(false, now)
		return
	}

	c.mu.Lock()
	c.lastPingSent = now
	c.mu.Unlock()
	c.logAndDispatch(now, 0, mmss, model.EventPing, "", "")
}

// runPhoneDelivery activates the fallback transport (§4.6): dial if no live
// channel, handshake, stream every not-yet-sent queued event, terminate,
// receive the batch ACK, purge, and park into autoservice.
func (w *Worker) runPhoneDelivery(ctx context.Context) {
	c := w.client

	c.mu.Lock()
	session := c.phoneSession
	c.mu.Unlock()

	if session == nil {
		var err error
		session, err = c.Phone.Dial(ctx)
		if err != nil {
			w.log.Warn("phone dial failed", "client_id", c.ID, "err", err)
			return
		}
		if err := session.Handshake(ctx, c.ID, c.PIN); err != nil {
			w.log.Warn("phone handshake failed", "client_id", c.ID, "err", err)
			session.Close()
			return
		}
		c.mu.Lock()
		c.phoneSession = session
		c.highestPhoneSeqSent = 0
		c.mu.Unlock()
	}

	var sawEvent bool
	for _, item := range c.Queue.Snapshot() {
		c.mu.Lock()
		already := item.Seq <= c.highestPhoneSeqSent
		c.mu.Unlock()
		if already {
			continue
		}

		payload, err := protocol.StripHeader(item.Payload)
		if err != nil {
			w.log.Warn("failed to strip header for phone delivery", "client_id", c.ID, "seq", item.Seq, "err", err)
			continue
		}

		if err := session.SendEvent(ctx, payload); err != nil {
			w.log.Warn("phone send failed", "client_id", c.ID, "seq", item.Seq, "err", err)
			c.mu.Lock()
			c.phoneSession = nil
			c.mu.Unlock()
			session.Close()
			return
		}

		sawEvent = true
		c.Queue.IncrementAttempts(item.Seq)
		c.mu.Lock()
		c.highestPhoneSeqSent = item.Seq
		c.mu.Unlock()
	}

	if sawEvent {
		ack, err := session.Finish(ctx)
		if err != nil {
			w.log.Warn("phone finish failed", "client_id", c.ID, "err", err)
			c.mu.Lock()
			c.phoneSession = nil
			c.mu.Unlock()
			session.Close()
			return
		}
		removed := c.Queue.Purge(ack)
		if removed > 0 {
			metrics.QueueDepth.WithLabelValues(string(c.ID)).Set(float64(c.Queue.Len()))
		}
	}

	if err := session.Idle(ctx); err != nil {
		w.log.Warn("failed to park phone channel", "client_id", c.ID, "err", err)
		c.mu.Lock()
		c.phoneSession = nil
		c.mu.Unlock()
		session.Close()
		return
	}
	c.mu.Lock()
	c.phoneIdleSince = c.Clock.Now()
	c.mu.Unlock()
}

// tearDownIdlePhoneChannel hangs up a parked call once it has idled beyond
// the configured hold window (§4.6 step 8).
func (w *Worker) tearDownIdlePhoneChannel(now time.Time) {
	c := w.client
	c.mu.Lock()
	session := c.phoneSession
	idleSince := c.phoneIdleSince
	c.mu.Unlock()

	if session == nil || idleSince.IsZero() {
		return
	}
	if now.Sub(idleSince) < c.IdleLineHold {
		return
	}

	session.Close()
	c.mu.Lock()
	c.phoneSession = nil
	c.phoneIdleSince = time.Time{}
	c.mu.Unlock()
}
