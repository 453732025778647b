package clientworker_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/malbeclabs/alarmcore/internal/clientworker"
	"github.com/malbeclabs/alarmcore/internal/clock"
	"github.com/malbeclabs/alarmcore/internal/config"
	"github.com/malbeclabs/alarmcore/internal/handlers"
	"github.com/malbeclabs/alarmcore/internal/logging"
	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/internal/sensor"
	"github.com/malbeclabs/alarmcore/internal/telephony"
	"github.com/stretchr/testify/require"
)

// fakeHookTelephony only implements the WaitForHook path SensorTrigger
// consumes; the other methods are unreached by these tests.
type fakeHookTelephony struct {
	waited chan model.SensorID
}

func (f *fakeHookTelephony) Dial(ctx context.Context, dialString string) (telephony.Channel, error) {
	return nil, nil
}

func (f *fakeHookTelephony) WaitForHook(ctx context.Context, id model.SensorID, fromState telephony.HookState) (telephony.HookState, error) {
	if f.waited != nil {
		f.waited <- id
	}
	return telephony.HookOnHook, nil
}

func (f *fakeHookTelephony) PlayTone(ctx context.Context, freqHz int, dur time.Duration) error {
	return nil
}
func (f *fakeHookTelephony) PlayAudio(ctx context.Context, path string) error { return nil }
func (f *fakeHookTelephony) CollectDTMF(ctx context.Context, promptAudio string, maxDigits int, timeout time.Duration) (string, error) {
	return "", nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T) (*clientworker.Client, clock.Clock) {
	t.Helper()
	c, _ := clock.NewFake(time.Unix(1_700_000_000, 0))
	profile := config.ClientProfile{
		ClientID:     "1A2B",
		ServerIP:     "127.0.0.1:0",
		PingInterval: 5 * time.Second,
		EgressDelay:  30 * time.Second,
		Sensors: []config.SensorConfig{
			{SensorID: "01", DisarmDelay: 60 * time.Second},
		},
	}
	return clientworker.New(profile, c, silentLogger(), logging.NullEventSink{}, handlers.NullDispatch{}), c
}

func TestNewClientAssumesConnectedWhenIPConfigured(t *testing.T) {
	cl, _ := newTestClient(t)
	require.True(t, cl.IPConnected())
}

func TestEmitOkayIsQueued(t *testing.T) {
	cl, _ := newTestClient(t)
	seq, queued := cl.Emit(model.EventOkay, "", "")
	require.True(t, queued)
	require.Equal(t, uint32(1), seq)
	require.Equal(t, 1, cl.Queue.Len())
}

func TestEmitPingIsNotQueued(t *testing.T) {
	cl, _ := newTestClient(t)
	seq, queued := cl.Emit(model.EventPing, "", "")
	require.False(t, queued)
	require.Equal(t, uint32(0), seq)
	require.Equal(t, 0, cl.Queue.Len())
}

func TestEmitInferredIsNotQueued(t *testing.T) {
	cl, _ := newTestClient(t)
	seq, queued := cl.Emit(model.EventBreach, "01", "")
	require.False(t, queued)
	require.Equal(t, uint32(0), seq)
	require.Equal(t, 0, cl.Queue.Len())
}

func TestEmitDispatchesConfiguredHandler(t *testing.T) {
	fired := make(chan handlers.Vars, 1)
	dispatch := handlers.NewAsyncDispatcher(silentLogger(), func(location string, vars handlers.Vars) error {
		fired <- vars
		return nil
	})

	c, _ := clock.NewFake(time.Unix(1_700_000_000, 0))
	profile := config.ClientProfile{
		ClientID:     "1A2B",
		ServerIP:     "127.0.0.1:0",
		PingInterval: 5 * time.Second,
		Handlers:     config.HandlerMap{model.EventSensorTriggered: "/bin/alert"},
		Sensors:      []config.SensorConfig{{SensorID: "01", DisarmDelay: 60 * time.Second}},
	}
	cl := clientworker.New(profile, c, silentLogger(), logging.NullEventSink{}, dispatch)

	cl.Emit(model.EventSensorTriggered, "01", "")

	select {
	case vars := <-fired:
		require.Equal(t, model.ClientID("1A2B"), vars.ClientID)
		require.Equal(t, model.SensorID("01"), vars.SensorID)
		require.Equal(t, model.EventSensorTriggered, vars.EventID)
	case <-time.After(time.Second):
		t.Fatal("handler was never fired")
	}
}

func TestSensorLookupByIDAndDevice(t *testing.T) {
	cl, _ := newTestClient(t)
	s, ok := cl.Sensor("01")
	require.True(t, ok)
	require.Equal(t, model.SensorID("01"), s.ID)

	_, ok = cl.Sensor("99")
	require.False(t, ok)
}

func TestSensorTriggerArmsEmitsAndWaitsForRestore(t *testing.T) {
	cl, _ := newTestClient(t)
	fake := &fakeHookTelephony{waited: make(chan model.SensorID, 1)}
	cl.Telephony = fake

	cl.SensorTrigger(context.Background(), "01", "")

	require.Equal(t, sensor.StateTriggered, cl.Arming.State())
	_, ok := cl.Arming.BreachDeadline()
	require.True(t, ok)

	select {
	case id := <-fake.waited:
		require.Equal(t, model.SensorID("01"), id)
	default:
		t.Fatal("WaitForHook was never called")
	}

	// SENSOR_TRIGGERED and SENSOR_RESTORED both consume sequence numbers.
	require.Equal(t, 2, cl.Queue.Len())

	s, _ := cl.Sensor("01")
	require.False(t, s.Triggered())
}

func TestSensorTriggerResolvesByDeviceWhenIDEmpty(t *testing.T) {
	c, _ := clock.NewFake(time.Unix(1_700_000_000, 0))
	profile := config.ClientProfile{
		ClientID:     "1A2B",
		ServerIP:     "127.0.0.1:0",
		PingInterval: 5 * time.Second,
		EgressDelay:  30 * time.Second,
		Sensors: []config.SensorConfig{
			{SensorID: "01", Device: "front-door", DisarmDelay: 60 * time.Second},
		},
	}
	cl := clientworker.New(profile, c, silentLogger(), logging.NullEventSink{}, handlers.NullDispatch{})
	cl.Telephony = &fakeHookTelephony{}

	cl.SensorTrigger(context.Background(), "", "front-door")

	require.Equal(t, sensor.StateTriggered, cl.Arming.State())
}

func TestSensorTriggerUnknownSensorIsNoop(t *testing.T) {
	cl, _ := newTestClient(t)
	cl.Telephony = &fakeHookTelephony{}

	cl.SensorTrigger(context.Background(), "99", "")

	require.Equal(t, sensor.StateOK, cl.Arming.State())
	require.Equal(t, 0, cl.Queue.Len())
}

func TestSensorTriggerEgressPassThroughSkipsArming(t *testing.T) {
	cl, c := newTestClient(t)
	cl.Telephony = &fakeHookTelephony{}

	cl.Arming.OnTempDisarmed(c.Now())
	cl.SensorTrigger(context.Background(), "01", "")

	require.Equal(t, sensor.StateOK, cl.Arming.State())
	_, ok := cl.Arming.BreachDeadline()
	require.False(t, ok)
}
