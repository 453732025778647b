package server_test

import (
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/malbeclabs/alarmcore/internal/clock"
	"github.com/malbeclabs/alarmcore/internal/config"
	"github.com/malbeclabs/alarmcore/internal/handlers"
	"github.com/malbeclabs/alarmcore/internal/logging"
	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/internal/protocol"
	"github.com/malbeclabs/alarmcore/internal/server"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T) (*server.Dispatcher, clock.Clock) {
	t.Helper()
	c, _ := clock.NewFake(time.Unix(1_700_000_000, 0))
	cfg := config.ServerConfig{
		BindPort:        4589,
		BindAddr:        "0.0.0.0",
		IPLossTolerance: 10 * time.Second,
		Reporters: []config.ReporterEntry{
			{ClientID: "1A2B", PIN: "1234"},
		},
	}
	d := server.New(cfg, c, silentLogger(), logging.NullEventSink{}, handlers.NullDispatch{})
	return d, c
}

func frame(seq uint32, kind model.EventKind, sensorID model.SensorID, extra string) []byte {
	return protocol.Encode(protocol.Fields{
		ClientID: "1A2B", PIN: "1234",
		Seq: seq, HasSeq: true,
		MMSS: "0000", HasMMSS: true,
		EventKind: kind, SensorID: sensorID, Extra: extra,
	})
}

func TestHandleDatagramFirstMessageAdoption(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ack := d.HandleDatagram(frame(5, model.EventOkay, "", ""))
	require.NotNil(t, ack)
	next, hasSeq, err := protocol.DecodeIPAck(ack)
	require.NoError(t, err)
	require.True(t, hasSeq)
	require.Equal(t, uint32(6), next)
}

func TestHandleDatagramExactMatchAdvances(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.HandleDatagram(frame(1, model.EventOkay, "", ""))
	ack := d.HandleDatagram(frame(2, model.EventOkay, "", ""))
	next, hasSeq, err := protocol.DecodeIPAck(ack)
	require.NoError(t, err)
	require.True(t, hasSeq)
	require.Equal(t, uint32(3), next)
}

func TestHandleDatagramRestartAdoption(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.HandleDatagram(frame(1, model.EventOkay, "", ""))
	d.HandleDatagram(frame(2, model.EventOkay, "", ""))
	// client restarted counting from 1
	ack := d.HandleDatagram(frame(1, model.EventOkay, "", ""))
	next, hasSeq, err := protocol.DecodeIPAck(ack)
	require.NoError(t, err)
	require.True(t, hasSeq)
	require.Equal(t, uint32(2), next)
}

func TestHandleDatagramDuplicateReAcksWithoutReprocessing(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.HandleDatagram(frame(1, model.EventOkay, "", ""))
	ack2 := d.HandleDatagram(frame(2, model.EventOkay, "", ""))
	next2, _, _ := protocol.DecodeIPAck(ack2)
	require.Equal(t, uint32(3), next2)

	// re-send seq 2, already consumed
	ackDup := d.HandleDatagram(frame(2, model.EventOkay, "", ""))
	require.NotNil(t, ackDup)
	nextDup, hasSeq, err := protocol.DecodeIPAck(ackDup)
	require.NoError(t, err)
	require.True(t, hasSeq)
	require.Equal(t, uint32(3), nextDup)
}

func TestHandleDatagramGapSendsNoAck(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.HandleDatagram(frame(1, model.EventOkay, "", ""))
	ack := d.HandleDatagram(frame(5, model.EventOkay, "", ""))
	require.Nil(t, ack)
}

func TestHandleDatagramPingAcksWithCurrentNextExpectedWithoutAdvancing(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.HandleDatagram(frame(1, model.EventOkay, "", ""))

	ping := protocol.Encode(protocol.Fields{
		ClientID: "1A2B", PIN: "1234", EventKind: model.EventPing,
	})
	ack := d.HandleDatagram(ping)
	require.NotNil(t, ack)
	next, hasSeq, err := protocol.DecodeIPAck(ack)
	require.NoError(t, err)
	require.True(t, hasSeq)
	require.Equal(t, uint32(2), next)

	// sequence state untouched by the ping: the next real event still
	// expects seq 2.
	ack2 := d.HandleDatagram(frame(2, model.EventOkay, "", ""))
	next2, _, _ := protocol.DecodeIPAck(ack2)
	require.Equal(t, uint32(3), next2)
}

func TestHandleDatagramUnknownClientDropped(t *testing.T) {
	d, _ := newTestDispatcher(t)
	f := protocol.Encode(protocol.Fields{
		ClientID: "9Z9Z", PIN: "0000", Seq: 1, HasSeq: true,
		MMSS: "0000", HasMMSS: true, EventKind: model.EventOkay,
	})
	ack := d.HandleDatagram(f)
	require.Nil(t, ack)
}

func TestHandleDatagramPinMismatchDropped(t *testing.T) {
	d, _ := newTestDispatcher(t)
	f := protocol.Encode(protocol.Fields{
		ClientID: "1A2B", PIN: "9999", Seq: 1, HasSeq: true,
		MMSS: "0000", HasMMSS: true, EventKind: model.EventOkay,
	})
	ack := d.HandleDatagram(f)
	require.Nil(t, ack)
}

func TestHandleDatagramMalformedDropped(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ack := d.HandleDatagram([]byte("not a valid frame"))
	require.Nil(t, ack)
}

func TestHandleDatagramMarksInternetRestoredOnFirstContact(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r, ok := d.Reporter("1A2B")
	require.True(t, ok)
	require.False(t, r.IPConnected())

	d.HandleDatagram(frame(1, model.EventOkay, "", ""))
	require.True(t, r.IPConnected())
}

func TestApplyEventSemanticsSensorTriggeredArmsBreachDeadline(t *testing.T) {
	d, c := newTestDispatcher(t)
	deadline := c.Now().Add(30 * time.Second)
	extra := timeToExtra(deadline)

	d.HandleDatagram(frame(1, model.EventSensorTriggered, "01", extra))

	r, ok := d.Reporter("1A2B")
	require.True(t, ok)
	got, has := r.BreachDeadline()
	require.True(t, has)
	require.WithinDuration(t, deadline, got, time.Second)
}

func TestApplyEventSemanticsZeroExtraIsEgressPassThroughNoAlarm(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.HandleDatagram(frame(1, model.EventSensorTriggered, "01", ""))

	r, ok := d.Reporter("1A2B")
	require.True(t, ok)
	_, has := r.BreachDeadline()
	require.False(t, has)
}

func TestApplyEventSemanticsDisarmedClearsBreachDeadline(t *testing.T) {
	d, c := newTestDispatcher(t)
	extra := timeToExtra(c.Now().Add(30 * time.Second))
	d.HandleDatagram(frame(1, model.EventSensorTriggered, "01", extra))
	d.HandleDatagram(frame(2, model.EventDisarmed, "01", ""))

	r, ok := d.Reporter("1A2B")
	require.True(t, ok)
	_, has := r.BreachDeadline()
	require.False(t, has)
}

func TestHousekeepFlipsIPLossAfterTolerance(t *testing.T) {
	fakeClock, fcRaw := clock.NewFake(time.Unix(1_700_000_000, 0))
	cfg := config.ServerConfig{
		IPLossTolerance: 10 * time.Second,
		Reporters:       []config.ReporterEntry{{ClientID: "1A2B", PIN: "1234"}},
	}
	d2 := server.New(cfg, fakeClock, silentLogger(), logging.NullEventSink{}, handlers.NullDispatch{})
	d2.HandleDatagram(frame(1, model.EventOkay, "", ""))

	r, ok := d2.Reporter("1A2B")
	require.True(t, ok)
	require.True(t, r.IPConnected())

	fcRaw.Advance(11 * time.Second)
	d2.Housekeep(fcRaw.Now())
	require.False(t, r.IPConnected())
}

func TestHousekeepTransitionsTriggeredToBreachAtDeadline(t *testing.T) {
	fakeClock, fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	cfg := config.ServerConfig{
		IPLossTolerance: time.Hour,
		Reporters:       []config.ReporterEntry{{ClientID: "1A2B", PIN: "1234"}},
	}
	d := server.New(cfg, fakeClock, silentLogger(), logging.NullEventSink{}, handlers.NullDispatch{})

	extra := timeToExtra(fc.Now().Add(5 * time.Second))
	d.HandleDatagram(frame(1, model.EventSensorTriggered, "01", extra))

	r, ok := d.Reporter("1A2B")
	require.True(t, ok)

	fc.Advance(4 * time.Second)
	d.Housekeep(fc.Now())
	require.NotEqual(t, "BREACH", r.State().String())

	fc.Advance(2 * time.Second)
	d.Housekeep(fc.Now())
	require.Equal(t, "BREACH", r.State().String())
}

func timeToExtra(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
