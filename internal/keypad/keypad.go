// Package keypad implements the dispatcher entry point exposed to the
// telephony host as keypad(client) (§4.10): either a PIN-gated disarm, or
// (when already OK) an egress grant. Grounded on the same
// mutex-guarded-per-entity shape as internal/sensor, generalized to a
// short-lived call flow instead of held state.
package keypad

import (
	"context"
	"log/slog"
	"time"

	"github.com/malbeclabs/alarmcore/internal/clientworker"
	"github.com/malbeclabs/alarmcore/internal/config"
	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/internal/sensor"
	"github.com/malbeclabs/alarmcore/internal/telephony"
)

// maxAttempts is the number of PIN entries allowed before the session ends
// without a state change (§4.10).
const maxAttempts = 4

// alertToneHz is the fallback PIN-prompt tone used when no audio file is
// configured.
const alertToneHz = 440

const (
	promptTimeout = 10 * time.Second
	maxPINDigits  = 8
)

// Keypad drives one client's keypad dispatcher entry over a telephony
// channel already answered by the host.
type Keypad struct {
	log    *slog.Logger
	tel    telephony.Telephony
	client *clientworker.Client
	cfg    config.KeypadConfig
}

// New returns a Keypad bound to client and its keypad configuration.
func New(log *slog.Logger, tel telephony.Telephony, client *clientworker.Client, cfg config.KeypadConfig) *Keypad {
	return &Keypad{log: log, tel: tel, client: client, cfg: cfg}
}

// Run executes one keypad invocation (§4.10): if the client is armed
// (TRIGGERED or BREACH), it prompts for a disarm PIN; if OK, it grants
// egress. Returns once the flow completes or ctx is canceled.
func (k *Keypad) Run(ctx context.Context) {
	state := k.client.Arming.State()

	if state == sensor.StateOK {
		k.grantEgress(ctx)
		return
	}

	k.attemptDisarm(ctx)
}

func (k *Keypad) attemptDisarm(ctx context.Context) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		digits, err := k.prompt(ctx)
		if err != nil {
			k.log.Warn("keypad prompt failed", "client_id", k.client.ID, "err", err)
			return
		}

		if k.matchesPIN(digits) {
			k.client.Arming.OnDisarmed()
			k.client.Emit(model.EventDisarmed, "", "")
			k.playConfirmation(ctx)
			return
		}

		k.log.Info("keypad PIN mismatch", "client_id", k.client.ID, "attempt", attempt)
	}

	k.log.Info("keypad attempts exhausted, no state change", "client_id", k.client.ID)
}

func (k *Keypad) grantEgress(ctx context.Context) {
	now := k.client.Clock.Now()
	k.client.Arming.OnTempDisarmed(now)
	k.client.Emit(model.EventTempDisarmed, "", "")
	k.playConfirmation(ctx)
}

func (k *Keypad) prompt(ctx context.Context) (string, error) {
	promptAudio := k.cfg.AudioPrompt
	if promptAudio == "" {
		if err := k.tel.PlayTone(ctx, alertToneHz, time.Second); err != nil {
			return "", err
		}
	}
	return k.tel.CollectDTMF(ctx, promptAudio, maxPINDigits, promptTimeout)
}

func (k *Keypad) playConfirmation(ctx context.Context) {
	if err := k.tel.PlayTone(ctx, alertToneHz*2, 200*time.Millisecond); err != nil {
		k.log.Warn("failed to play keypad confirmation tone", "client_id", k.client.ID, "err", err)
	}
}

func (k *Keypad) matchesPIN(digits string) bool {
	for _, pin := range k.cfg.PINs {
		if pin == digits {
			return true
		}
	}
	return false
}
