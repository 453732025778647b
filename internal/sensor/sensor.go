// Package sensor implements the per-sensor trigger state and the client
// arming state machine (§4.2, §4.3), grounded on the small
// mutex-guarded-struct shape the teacher uses for per-entity state
// trackers (client/doublezerod/internal/probing/liveness.go).
package sensor

import (
	"sync"
	"time"

	"github.com/malbeclabs/alarmcore/internal/model"
)

// Sensor is a single hook-switch input.
type Sensor struct {
	ID          model.SensorID
	Device      string
	DisarmDelay time.Duration // 0 means this sensor never arms, only reports

	mu        sync.RWMutex
	triggered bool
}

// NewSensor constructs a Sensor. disarmDelay of 0 means the sensor still
// emits SENSOR_TRIGGERED/SENSOR_RESTORED but never arms the client.
func NewSensor(id model.SensorID, device string, disarmDelay time.Duration) *Sensor {
	return &Sensor{ID: id, Device: device, DisarmDelay: disarmDelay}
}

// Triggered reports the sensor's current trigger state.
func (s *Sensor) Triggered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.triggered
}

func (s *Sensor) setTriggered(v bool) {
	s.mu.Lock()
	s.triggered = v
	s.mu.Unlock()
}

// State is the client-wide arming state (§4.3).
type State int

const (
	StateOK State = iota
	StateTriggered
	StateBreach
)

func (s State) String() string {
	switch s {
	case StateTriggered:
		return "TRIGGERED"
	case StateBreach:
		return "BREACH"
	default:
		return "OK"
	}
}

// ArmingSM holds the client-wide arming state and breach-timer arithmetic.
// It is mutated from several goroutines — sensor-trigger handlers, the
// keypad flow (disarm and egress grants), and the client worker's breach
// timer — so every accessor takes mu.
type ArmingSM struct {
	mu             sync.Mutex
	state          State
	breachDeadline *time.Time
	lastArm        time.Time
}

// NewArmingSM returns a state machine initialized to OK with no prior
// egress grant.
func NewArmingSM() *ArmingSM {
	return &ArmingSM{state: StateOK}
}

// State returns the current arming state.
func (a *ArmingSM) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// BreachDeadline returns the current breach deadline, if any.
func (a *ArmingSM) BreachDeadline() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.breachDeadline == nil {
		return time.Time{}, false
	}
	return *a.breachDeadline, true
}

// LastArm returns the instant TEMP_DISARMED was last invoked.
func (a *ArmingSM) LastArm() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastArm
}

// TriggerResult is what OnSensorTrigger needs the caller to act on: whether
// this trigger was an egress pass-through and, if not, the absolute breach
// deadline the sensor contributes (zero if the sensor never arms).
type TriggerResult struct {
	IsEgress        bool
	BreachCandidate time.Time // zero if none
}

// OnSensorTrigger applies §4.2's trigger logic: classify egress, compute the
// candidate breach deadline, and — if one applies — move the state machine
// to TRIGGERED and fold the candidate into the earliest known deadline.
func (a *ArmingSM) OnSensorTrigger(s *Sensor, now time.Time, egressDelay time.Duration) TriggerResult {
	s.setTriggered(true)

	isEgress := now.Sub(a.LastArm()) < egressDelay

	var candidate time.Time
	if !isEgress && s.DisarmDelay > 0 {
		candidate = now.Add(s.DisarmDelay)
	}

	if !candidate.IsZero() {
		a.mu.Lock()
		a.state = StateTriggered
		if a.breachDeadline == nil || candidate.Before(*a.breachDeadline) {
			d := candidate
			a.breachDeadline = &d
		}
		a.mu.Unlock()
	}

	return TriggerResult{IsEgress: isEgress, BreachCandidate: candidate}
}

// OnSensorRestore clears the sensor's trigger flag. It does not by itself
// change arming state — only DISARMED (operator PIN) and the breach timer
// do that.
func (a *ArmingSM) OnSensorRestore(s *Sensor) {
	s.setTriggered(false)
}

// OnDisarmed applies the DISARMED transition: TRIGGERED or BREACH -> OK,
// clearing the breach deadline.
func (a *ArmingSM) OnDisarmed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateOK
	a.breachDeadline = nil
}

// OnTempDisarmed records an egress grant. It never changes arming state.
func (a *ArmingSM) OnTempDisarmed(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastArm = now
}

// CheckBreach applies the TRIGGERED -> BREACH timer rule: if the state is
// TRIGGERED and now is at or past the breach deadline, transition to
// BREACH and return true so the caller can emit the inferred BREACH event.
// The deadline is left in place (it still reflects the overdue breach) —
// only DISARMED clears it, matching §4.3's "TRIGGERED -> BREACH" rule.
func (a *ArmingSM) CheckBreach(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateTriggered {
		return false
	}
	if a.breachDeadline == nil || now.Before(*a.breachDeadline) {
		return false
	}
	a.state = StateBreach
	return true
}
