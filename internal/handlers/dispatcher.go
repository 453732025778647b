// Package handlers implements the dialplan-launch abstraction of §9:
// "HandlerDispatch.fire(location, vars) with no return value and no
// ordering relative to state transitions." Grounded on the teacher's
// fire-and-forget goroutine + recover() idiom
// (controlplane/agent/internal/telemetry/collector.go's ping/measurement
// goroutines) and its use of google/uuid for correlating async work.
package handlers

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/malbeclabs/alarmcore/internal/model"
)

// Vars are the bound variables passed to a fired handler (§4.9, §9).
type Vars struct {
	ClientID model.ClientID
	SensorID model.SensorID
	EventID  model.EventKind
}

// Dispatch is the host-supplied HandlerDispatch port (§6.4). Implementations
// launch the named handler asynchronously; the core never waits on it and
// never inspects its outcome.
type Dispatch interface {
	Fire(location string, vars Vars)
}

// AsyncDispatcher is a Dispatch that runs each handler invocation in its own
// goroutine, guarded against panics, and logs failures with a correlation
// id instead of propagating them — matching the core's "fire and forget,
// no ordering relative to state transitions" contract.
type AsyncDispatcher struct {
	log *slog.Logger
	run func(location string, vars Vars) error
}

// NewAsyncDispatcher builds a dispatcher that invokes run for each fire. run
// is expected to be the host's actual handler-invocation mechanism (spawn a
// process, call a script, etc.) — out of scope for this package, which only
// owns the async/panic-safety wrapper.
func NewAsyncDispatcher(log *slog.Logger, run func(location string, vars Vars) error) *AsyncDispatcher {
	return &AsyncDispatcher{log: log, run: run}
}

// Fire launches the handler asynchronously. Panics are recovered and
// logged, never propagated, since a misbehaving handler must not affect the
// core's state machine.
func (d *AsyncDispatcher) Fire(location string, vars Vars) {
	corrID := uuid.NewString()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("panic in handler dispatch",
					"correlation_id", corrID,
					"location", location,
					"client_id", vars.ClientID,
					"sensor_id", vars.SensorID,
					"event", vars.EventID,
					"panic", r,
				)
			}
		}()

		if d.run == nil {
			return
		}
		if err := d.run(location, vars); err != nil {
			d.log.Warn("handler dispatch failed",
				"correlation_id", corrID,
				"location", location,
				"client_id", vars.ClientID,
				"sensor_id", vars.SensorID,
				"event", vars.EventID,
				"err", err,
			)
		}
	}()
}

// NullDispatch discards every fire. Useful where no handler map is configured.
type NullDispatch struct{}

func (NullDispatch) Fire(string, Vars) {}
