// Package clientworker implements the client's single coordinating task
// (§4.7): the per-client runtime state plus the worker loop that drives
// pings, retransmission, transport failover, and state-machine timers.
// Grounded on the Start/Stop/atomic-running/reusable-timer shape of
// client/doublezerod/internal/probing/worker.go, generalized from route
// probing to event delivery.
package clientworker

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
	"github.com/malbeclabs/alarmcore/internal/phonetransport"
	"github.com/malbeclabs/alarmcore/internal/protocol"
	"github.com/malbeclabs/alarmcore/internal/queue"
	"github.com/malbeclabs/alarmcore/internal/sensor"
	"github.com/malbeclabs/alarmcore/internal/telephony"
)

// Client is one client's full runtime state (§3 "Client runtime state"):
// the event queue, arming state machine, per-sensor state, and the two
// transports. All mutation funnels through the worker goroutine except the
// queue (lock-guarded internally) and the arming state machine (also
// internally lock-guarded, since keypad/sensor handlers run on
// telephony-driven goroutines concurrently with the worker).
type Client struct {
	ID              model.ClientID
	PIN             string
	EgressDelay     time.Duration
	PingInterval    time.Duration
	IdleLineHold    time.Duration
	LogPath         string
	PhoneDialString string

	Clock  clock.Clock
	Queue  *queue.Queue
	Arming *sensor.ArmingSM

	IP    *iptransport.Transport
	Phone *phonetransport.Transport

	// Telephony is the host-supplied seam used by SensorTrigger to detect
	// the sensor loop's on-hook restore (§4.2). Nil disables the
	// restore-wait; SensorTrigger still emits SENSOR_TRIGGERED immediately.
	Telephony telephony.Telephony

	// KeypadDialString is the local dial string for the keypad/siren
	// device. Empty disables proactive keypad origination on trigger.
	KeypadDialString string

	// KeypadOriginate runs the keypad flow over a freshly originated call
	// when a breach is pending and not an egress event (§4.2). Supplied by
	// the host composition layer (pkg/alarmcore), since internal/keypad
	// itself depends on *clientworker.Client and can't be imported here.
	KeypadOriginate func(ctx context.Context)

	Handlers config.HandlerMap
	Dispatch handlers.Dispatch
	Log      *slog.Logger
	Sink     logging.EventSink

	sensorsMu sync.RWMutex
	sensors   map[model.SensorID]*sensor.Sensor

	mu            sync.Mutex
	ipConnected   bool
	lastIPAck     time.Time
	ipLostAt      time.Time
	lastPingSent  time.Time
	probeSent     bool
	phoneSession  *phonetransport.Session
	phoneIdleSince time.Time
	highestPhoneSeqSent uint32
}

// New builds a Client from a validated profile. Whether profile.ServerIP is
// set controls the initial ip_connected assumption (§3: "initial
// assumed-true iff IP is configured").
func New(profile config.ClientProfile, c clock.Clock, log *slog.Logger, sink logging.EventSink, dispatch handlers.Dispatch) *Client {
	sensors := make(map[model.SensorID]*sensor.Sensor, len(profile.Sensors))
	for _, sc := range profile.Sensors {
		sensors[sc.SensorID] = sensor.NewSensor(sc.SensorID, sc.Device, sc.DisarmDelay)
	}

	ipConfigured := profile.ServerIP != ""

	cl := &Client{
		ID:              profile.ClientID,
		PIN:             profile.PIN,
		EgressDelay:     profile.EgressDelay,
		PingInterval:    profile.PingInterval,
		IdleLineHold:    profile.IdleLineHold,
		LogPath:         profile.LogPath,
		PhoneDialString: profile.ServerDialString,
		Clock:           c,
		Queue:           queue.New(log),
		Arming:          sensor.NewArmingSM(),
		Handlers:        profile.Handlers,
		Dispatch:        dispatch,
		Log:             log,
		Sink:            sink,
		sensors:         sensors,
		ipConnected:     ipConfigured,
	}
	if ipConfigured {
		cl.IP = iptransport.New(profile.ServerIP)
	}
	return cl
}

// Sensor returns the sensor registered under id, if any.
func (c *Client) Sensor(id model.SensorID) (*sensor.Sensor, bool) {
	c.sensorsMu.RLock()
	defer c.sensorsMu.RUnlock()
	s, ok := c.sensors[id]
	return s, ok
}

// SensorByDevice resolves a sensor by its configured device string, used
// when the telephony host reports a trigger by device rather than sensor
// id (§4.2: "Resolution order: if sensor name is supplied use it; else
// look up by device string.").
func (c *Client) SensorByDevice(device string) (*sensor.Sensor, bool) {
	c.sensorsMu.RLock()
	defer c.sensorsMu.RUnlock()
	for _, s := range c.sensors {
		if s.Device == device {
			return s, true
		}
	}
	return nil, false
}

// SensorTrigger implements the dispatcher entry sensor_trigger(client,
// sensor|device) (§4.2), called by the telephony host when a sensor loop
// goes off-hook. Per the resolution order, id is tried first and device
// only consulted if id is empty. Blocks until the loop goes back on-hook
// before returning, so the host should invoke it on its own goroutine.
func (c *Client) SensorTrigger(ctx context.Context, id model.SensorID, device string) {
	s, ok := c.resolveSensor(id, device)
	if !ok {
		c.Log.Warn("sensor_trigger: unknown sensor", "client_id", c.ID, "sensor_id", id, "device", device)
		return
	}

	now := c.Clock.Now()
	result := c.Arming.OnSensorTrigger(s, now, c.EgressDelay)

	extra := ""
	if !result.BreachCandidate.IsZero() {
		extra = strconv.FormatInt(result.BreachCandidate.Unix(), 10)
	}
	c.Emit(model.EventSensorTriggered, s.ID, extra)

	if !result.IsEgress && !result.BreachCandidate.IsZero() && c.KeypadDialString != "" && c.KeypadOriginate != nil {
		go c.KeypadOriginate(ctx)
	}

	if c.Telephony != nil {
		if _, err := c.Telephony.WaitForHook(ctx, s.ID, telephony.HookOffHook); err != nil {
			c.Log.Warn("sensor_trigger: wait for hook failed", "client_id", c.ID, "sensor_id", s.ID, "err", err)
		}
	}

	c.Arming.OnSensorRestore(s)
	c.Emit(model.EventSensorRestored, s.ID, "")
}

func (c *Client) resolveSensor(id model.SensorID, device string) (*sensor.Sensor, bool) {
	if id != "" {
		return c.Sensor(id)
	}
	return c.SensorByDevice(device)
}

// IPConnected reports the client's current IP connectivity belief.
func (c *Client) IPConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ipConnected
}

func (c *Client) setIPConnected(v bool, now time.Time) (transitioned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ipConnected == v {
		return false
	}
	c.ipConnected = v
	if !v {
		c.ipLostAt = now
	}
	return true
}

// Emit applies §4.4's append rules for one event: PING and inferred events
// (BREACH, INTERNET_LOST, INTERNET_RESTORED) consume no sequence number
// and are never queued; everything else is encoded and appended to the
// queue. Every event is logged and handler-dispatched regardless of kind
// (§4.9). Returns the allocated sequence number (0 if none) and whether it
// was queued.
func (c *Client) Emit(kind model.EventKind, sensorID model.SensorID, extra string) (seq uint32, queued bool) {
	now := c.Clock.Now()
	mmss := clock.MMSS(c.Clock, now)

	if kind != model.EventPing && !kind.Inferred() {
		seq, queued = c.Queue.Append(kind, func(s uint32) []byte {
			return protocol.Encode(protocol.Fields{
				ClientID:  c.ID,
				PIN:       c.PIN,
				Seq:       s,
				HasSeq:    true,
				MMSS:      mmss,
				HasMMSS:   true,
				EventKind: kind,
				SensorID:  sensorID,
				Extra:     extra,
			})
		})
		metrics.QueueDepth.WithLabelValues(string(c.ID)).Set(float64(c.Queue.Len()))
	}

	c.logAndDispatch(now, seq, mmss, kind, sensorID, extra)
	return seq, queued
}

func (c *Client) logAndDispatch(now time.Time, seq uint32, mmss string, kind model.EventKind, sensorID model.SensorID, extra string) {
	if c.Sink != nil && c.LogPath != "" {
		row := logging.EventRow{
			Timestamp: c.Clock.Local(now),
			ClientID:  c.ID,
			Seq:       seq,
			MMSS:      mmss,
			EventName: kind.String(),
			SensorID:  sensorID,
			Extra:     extra,
		}
		if err := c.Sink.LogEvent(c.LogPath, row); err != nil {
			c.Log.Warn("failed to write event log row", "client_id", c.ID, "err", err)
		}
	}

	if c.Handlers != nil && c.Dispatch != nil {
		if loc, ok := c.Handlers[kind]; ok {
			c.Dispatch.Fire(loc, handlers.Vars{ClientID: c.ID, SensorID: sensorID, EventID: kind})
			metrics.HandlerDispatches.WithLabelValues(kind.String()).Inc()
		}
	}
}
