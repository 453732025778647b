// Package alarmcore is the public façade a host binary embeds: a Client
// that runs one client profile's worker loop, and a Server that runs the
// dispatcher + housekeeping tick. Both are thin supervisors over the
// internal packages, using errgroup the way lake/api/handlers/status.go
// supervises concurrent subtasks under one context.
package alarmcore

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/alarmcore/internal/clientworker"
	"github.com/malbeclabs/alarmcore/internal/clock"
	"github.com/malbeclabs/alarmcore/internal/config"
	"github.com/malbeclabs/alarmcore/internal/handlers"
	"github.com/malbeclabs/alarmcore/internal/keypad"
	"github.com/malbeclabs/alarmcore/internal/logging"
	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/internal/phonetransport"
	"github.com/malbeclabs/alarmcore/internal/telephony"
)

// Client wraps one client profile's runtime and worker.
type Client struct {
	runtime *clientworker.Client
	worker  *clientworker.Worker
}

// NewClient validates profile and builds a Client ready to Run. tel may be
// nil if the profile has no phone dial string configured.
func NewClient(profile config.ClientProfile, tel telephony.Telephony, log *slog.Logger, sink logging.EventSink, dispatch handlers.Dispatch) (*Client, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	c := clock.New()
	runtime := clientworker.New(profile, c, log, sink, dispatch)

	if profile.ServerDialString != "" && tel != nil {
		runtime.Phone = phonetransport.New(log, tel, phonetransport.Config{
			DialString:   profile.ServerDialString,
			IdleLineHold: profile.IdleLineHold,
		})
	}

	if tel != nil {
		runtime.Telephony = tel
	}
	if profile.Keypad != nil && tel != nil {
		runtime.KeypadDialString = profile.Keypad.KeypadDevice
		kp := keypad.New(log, tel, runtime, *profile.Keypad)
		runtime.KeypadOriginate = func(ctx context.Context) {
			ch, err := tel.Dial(ctx, profile.Keypad.KeypadDevice)
			if err != nil {
				log.Warn("keypad origination dial failed", "client_id", profile.ClientID, "err", err)
				return
			}
			defer ch.HangUp()
			kp.Run(ctx)
		}
	}

	return &Client{
		runtime: runtime,
		worker:  clientworker.New(log, runtime),
	}, nil
}

// Runtime exposes the underlying client state, for a telephony host to
// wire sensor-loop and keypad callbacks against.
func (c *Client) Runtime() *clientworker.Client {
	return c.runtime
}

// SensorTrigger forwards to the runtime's sensor_trigger dispatcher entry
// (§4.2), the call a telephony host makes when a sensor loop goes
// off-hook.
func (c *Client) SensorTrigger(ctx context.Context, id model.SensorID, device string) {
	c.runtime.SensorTrigger(ctx, id, device)
}

// Run starts the worker and blocks until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.worker.Start(ctx)
		<-ctx.Done()
		c.worker.Stop()
		return nil
	})
	return g.Wait()
}
