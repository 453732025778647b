package handlers_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/malbeclabs/alarmcore/internal/handlers"
	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAsyncDispatcherFiresRun(t *testing.T) {
	var mu sync.Mutex
	var gotLocation string
	var gotVars handlers.Vars
	done := make(chan struct{})

	d := handlers.NewAsyncDispatcher(silentLogger(), func(location string, vars handlers.Vars) error {
		mu.Lock()
		gotLocation = location
		gotVars = vars
		mu.Unlock()
		close(done)
		return nil
	})

	d.Fire("/bin/alert", handlers.Vars{ClientID: "1A2B", SensorID: "01", EventID: model.EventSensorTriggered})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "/bin/alert", gotLocation)
	require.Equal(t, model.ClientID("1A2B"), gotVars.ClientID)
	require.Equal(t, model.SensorID("01"), gotVars.SensorID)
	require.Equal(t, model.EventSensorTriggered, gotVars.EventID)
}

func TestAsyncDispatcherRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	d := handlers.NewAsyncDispatcher(silentLogger(), func(location string, vars handlers.Vars) error {
		defer close(done)
		panic("boom")
	})

	require.NotPanics(t, func() {
		d.Fire("/bin/alert", handlers.Vars{})
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
	// Give the deferred recover a moment to run after the panic unwinds.
	time.Sleep(10 * time.Millisecond)
}

func TestAsyncDispatcherSwallowsError(t *testing.T) {
	done := make(chan struct{})
	d := handlers.NewAsyncDispatcher(silentLogger(), func(location string, vars handlers.Vars) error {
		defer close(done)
		return errors.New("handler failed")
	})

	d.Fire("/bin/alert", handlers.Vars{})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestNullDispatchDoesNothing(t *testing.T) {
	var d handlers.NullDispatch
	require.NotPanics(t, func() {
		d.Fire("/bin/alert", handlers.Vars{})
	})
}
