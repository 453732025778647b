package server

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/malbeclabs/alarmcore/internal/clock"
	"github.com/malbeclabs/alarmcore/internal/config"
	"github.com/malbeclabs/alarmcore/internal/handlers"
	"github.com/malbeclabs/alarmcore/internal/iptransport"
	"github.com/malbeclabs/alarmcore/internal/logging"
	"github.com/malbeclabs/alarmcore/internal/metrics"
	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/internal/protocol"
)

// Dispatcher owns the single UDP listener and the authorized-reporter
// registry (§4.8: "single listener task owns the UDP socket"). Only one
// Dispatcher ever exists per process (§1 Non-goals: "multiple concurrent
// servers").
type Dispatcher struct {
	log    *slog.Logger
	clock  clock.Clock
	sink   logging.EventSink
	logFile string
	handlers config.HandlerMap
	dispatch handlers.Dispatch

	reportersMu sync.RWMutex
	reporters   map[model.ClientID]*ReportingClient

	ipLossTolerance time.Duration
}

// New builds a Dispatcher from a validated ServerConfig (§6.2).
func New(cfg config.ServerConfig, c clock.Clock, log *slog.Logger, sink logging.EventSink, dispatch handlers.Dispatch) *Dispatcher {
	reporters := make(map[model.ClientID]*ReportingClient, len(cfg.Reporters))
	for _, r := range cfg.Reporters {
		reporters[r.ClientID] = NewReportingClient(r.ClientID, r.PIN)
	}
	return &Dispatcher{
		log:             log,
		clock:           c,
		sink:            sink,
		logFile:         cfg.LogFile,
		handlers:        cfg.Handlers,
		dispatch:        dispatch,
		reporters:       reporters,
		ipLossTolerance: cfg.IPLossTolerance,
	}
}

// Reporter looks up an authorized reporting client by id.
func (d *Dispatcher) Reporter(id model.ClientID) (*ReportingClient, bool) {
	d.reportersMu.RLock()
	defer d.reportersMu.RUnlock()
	r, ok := d.reporters[id]
	return r, ok
}

// Reporters returns a snapshot of every registered reporter, for the
// housekeeping tick to iterate without holding the registry lock.
func (d *Dispatcher) Reporters() []*ReportingClient {
	d.reportersMu.RLock()
	defer d.reportersMu.RUnlock()
	out := make([]*ReportingClient, 0, len(d.reporters))
	for _, r := range d.reporters {
		out = append(out, r)
	}
	return out
}

// HandleDatagram applies §4.8's per-datagram dispatcher logic and returns
// the ACK payload to send back, or nil if none should be sent (a gap, or a
// dropped datagram).
func (d *Dispatcher) HandleDatagram(payload []byte) []byte {
	f, err := protocol.Decode(payload)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues("malformed_datagram").Inc()
		d.log.Warn("dropping malformed datagram", "err", err)
		return nil
	}

	reporter, ok := d.Reporter(f.ClientID)
	if !ok {
		d.log.Info("unknown client id, dropping", "client_id", f.ClientID)
		return nil
	}
	if reporter.PIN != "" && reporter.PIN != f.PIN {
		d.log.Info("pin mismatch, dropping", "client_id", f.ClientID)
		return nil
	}

	now := d.clock.Now()
	if reporter.MarkContact(now) {
		mmss := clock.MMSS(d.clock, now)
		d.logAndDispatch(now, 0, mmss, model.EventInternetRestored, "", f.ClientID)
	}

	if f.EventKind == model.EventPing {
		nextSeq := reporter.NextExpected()
		return protocol.EncodeIPAck(&nextSeq)
	}

	outcome, nextSeq := reporter.ApplySequence(f.Seq)
	switch outcome {
	case SeqGap:
		metrics.ReconcilerGaps.WithLabelValues(string(f.ClientID)).Inc()
		d.log.Warn("sequence gap, not acknowledging", "client_id", f.ClientID, "got", f.Seq)
		return nil
	case SeqDuplicate:
		metrics.ReconcilerDuplicates.WithLabelValues(string(f.ClientID)).Inc()
		d.log.Debug("duplicate sequence, re-acknowledging", "client_id", f.ClientID, "got", f.Seq)
	case SeqAccepted:
		d.applyEventSemantics(reporter, f, now)
		d.logAndDispatch(now, f.Seq, f.MMSS, f.EventKind, f.SensorID, f.ClientID)
	}

	return protocol.EncodeIPAck(&nextSeq)
}

func (d *Dispatcher) applyEventSemantics(reporter *ReportingClient, f protocol.Fields, now time.Time) {
	switch f.EventKind {
	case model.EventSensorTriggered:
		deadline := parseDeadline(f.Extra)
		reporter.OnSensorTriggered(deadline)
	case model.EventDisarmed:
		reporter.OnDisarmed()
	}
}

func parseDeadline(extra string) time.Time {
	if extra == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(extra, 10, 64)
	if err != nil || secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

func (d *Dispatcher) logAndDispatch(now time.Time, seq uint32, mmss string, kind model.EventKind, sensorID model.SensorID, clientID model.ClientID) {
	if d.sink != nil && d.logFile != "" {
		row := logging.EventRow{
			Timestamp: d.clock.Local(now),
			ClientID:  clientID,
			Seq:       seq,
			MMSS:      mmss,
			EventName: kind.String(),
			SensorID:  sensorID,
		}
		if err := d.sink.LogEvent(d.logFile, row); err != nil {
			d.log.Warn("failed to write server event log row", "err", err)
		}
	}
	if d.handlers != nil && d.dispatch != nil {
		if loc, ok := d.handlers[kind]; ok {
			d.dispatch.Fire(loc, handlers.Vars{ClientID: clientID, SensorID: sensorID, EventID: kind})
			metrics.HandlerDispatches.WithLabelValues(kind.String()).Inc()
		}
	}
}

// Housekeep runs the 1 Hz server housekeeping tick (§4.8): IP-loss
// inference and breach-deadline inference across every reporter.
func (d *Dispatcher) Housekeep(now time.Time) {
	for _, r := range d.Reporters() {
		if r.CheckIPLossTolerance(now, d.ipLossTolerance) {
			mmss := clock.MMSS(d.clock, now)
			d.logAndDispatch(now, 0, mmss, model.EventInternetLost, "", r.ID)
		}
		if r.CheckBreach(now) {
			metrics.BreachTransitions.WithLabelValues(string(r.ID)).Inc()
			mmss := clock.MMSS(d.clock, now)
			d.logAndDispatch(now, 0, mmss, model.EventBreach, "", r.ID)
		}
	}
}

// Run binds listener addr and serves until ctx is canceled, replying to
// each datagram's source address with the ACK HandleDatagram computes.
func (d *Dispatcher) Run(ctx context.Context, listenAddr string, housekeepInterval time.Duration) error {
	listener, err := iptransport.Listen(d.log, listenAddr)
	if err != nil {
		return err
	}
	defer listener.Close()

	go func() {
		ticker := time.NewTicker(housekeepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Housekeep(d.clock.Now())
			}
		}
	}()

	return listener.Run(ctx, 500*time.Millisecond, func(dg iptransport.Datagram) {
		ack := d.HandleDatagram(dg.Payload)
		if ack == nil {
			return
		}
		if err := listener.Reply(dg.Addr, ack); err != nil {
			d.log.Warn("failed to send ACK", "addr", dg.Addr, "err", err)
		}
	})
}
