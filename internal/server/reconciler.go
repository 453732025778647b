// Package server implements the single-listener dispatcher and per-client
// reconciler (§4.8), grounded on the listener/measurement-loop shape of
// controlplane/agent/internal/telemetry/collector.go, generalized from UDP
// ping/pong bookkeeping to sequence reconciliation and inferred-state
// derivation.
package server

import (
	"sync"
	"time"

	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/internal/sensor"
)

// ReportingClient is the server-side per-client inferred state (§3). Each
// instance owns its own mutex so the phone-delivery path and the IP
// dispatcher can reconcile the same reporter concurrently (§5).
type ReportingClient struct {
	ID  model.ClientID
	PIN string

	mu             sync.Mutex
	nextExpected   uint32
	receivedAny    bool
	lastIPContact  time.Time
	ipConnected    bool
	state          sensor.State
	breachDeadline *time.Time
}

// NewReportingClient returns a reporter with next_expected_seq initialized
// to 1 and ip_connected false until first contact.
func NewReportingClient(id model.ClientID, pin string) *ReportingClient {
	return &ReportingClient{ID: id, PIN: pin, nextExpected: 1}
}

// SeqOutcome is the result of applying §4.8's sequence rule to one incoming
// datagram.
type SeqOutcome int

const (
	SeqAccepted SeqOutcome = iota
	SeqDuplicate
	SeqGap
)

// ApplySequence applies §4.8's sequence rule and returns the outcome plus
// the next_expected_seq to ACK (valid for SeqAccepted and SeqDuplicate;
// SeqGap sends no ACK at all).
func (r *ReportingClient) ApplySequence(seq uint32) (SeqOutcome, uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case seq == r.nextExpected:
		r.nextExpected++
		r.receivedAny = true
		return SeqAccepted, r.nextExpected

	case !r.receivedAny:
		// Client started counting at a different base than we did; adopt it.
		r.nextExpected = seq + 1
		r.receivedAny = true
		return SeqAccepted, r.nextExpected

	case seq == 1 && r.nextExpected > 1:
		// Client has restarted.
		r.nextExpected = 2
		r.receivedAny = true
		return SeqAccepted, r.nextExpected

	case seq < r.nextExpected:
		return SeqDuplicate, r.nextExpected

	default: // seq > nextExpected
		return SeqGap, 0
	}
}

// NextExpected returns the current next_expected_seq without mutating it,
// used to ACK a PING (§4.8 step 5: "no sequence handling, ACK with current
// next_expected_seq").
func (r *ReportingClient) NextExpected() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextExpected
}

// MarkContact records that a datagram arrived from this reporter, returning
// whether ip_connected transitioned false -> true (§4.8 step 3).
func (r *ReportingClient) MarkContact(now time.Time) (transitioned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastIPContact = now
	if !r.ipConnected {
		r.ipConnected = true
		return true
	}
	return false
}

// LastIPContact returns the last time a datagram arrived from this reporter.
func (r *ReportingClient) LastIPContact() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastIPContact
}

// IPConnected reports the reporter's current inferred connectivity.
func (r *ReportingClient) IPConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ipConnected
}

// MarkDisconnected flips ip_connected false (housekeeping tick, §4.8).
func (r *ReportingClient) MarkDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ipConnected = false
}

// State returns the reconciler's inferred arming state.
func (r *ReportingClient) State() sensor.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// BreachDeadline returns the current inferred breach deadline, if any.
func (r *ReportingClient) BreachDeadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.breachDeadline == nil {
		return time.Time{}, false
	}
	return *r.breachDeadline, true
}

// OnSensorTriggered applies the SENSOR_TRIGGERED reconciliation rule (§4.8
// event-specific handling): a nonzero deadline arms and folds into the
// earliest known deadline; a zero/empty deadline was an egress pass-through
// and does not alarm.
func (r *ReportingClient) OnSensorTriggered(deadline time.Time) {
	if deadline.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = sensor.StateTriggered
	if r.breachDeadline == nil || deadline.Before(*r.breachDeadline) {
		d := deadline
		r.breachDeadline = &d
	}
}

// OnDisarmed applies the DISARMED reconciliation rule: state -> OK, clear
// the breach deadline.
func (r *ReportingClient) OnDisarmed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = sensor.StateOK
	r.breachDeadline = nil
}

// CheckBreach applies the housekeeping tick's TRIGGERED -> BREACH rule,
// returning true (and transitioning) if now is at or past the deadline.
func (r *ReportingClient) CheckBreach(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != sensor.StateTriggered {
		return false
	}
	if r.breachDeadline == nil || now.Before(*r.breachDeadline) {
		return false
	}
	r.state = sensor.StateBreach
	return true
}

// CheckIPLossTolerance applies the housekeeping tick's connectivity-loss
// rule: ip_connected flips false if last_ip_contact predates now by more
// than tolerance. Returns true on transition.
func (r *ReportingClient) CheckIPLossTolerance(now time.Time, tolerance time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ipConnected {
		return false
	}
	if r.lastIPContact.IsZero() || now.Sub(r.lastIPContact) <= tolerance {
		return false
	}
	r.ipConnected = false
	return true
}
