// Package telephony defines the host-supplied Telephony port (§6.4). The
// telephony host itself — channel origination, audio playback, hook
// detection — is explicitly out of scope for this module (§1); the core
// only consumes it through this interface.
package telephony

import (
	"context"
	"time"

	"github.com/malbeclabs/alarmcore/internal/model"
)

// HookState is the off-hook/on-hook state of a sensor loop.
type HookState int

const (
	HookOnHook HookState = iota
	HookOffHook
)

// Telephony is the seam over the telephony host's call origination, DTMF
// send/receive, audio playback, and sensor-loop hook detection.
type Telephony interface {
	// Dial originates an outbound call on the given dial string and blocks
	// until answer, busy/congestion (terminal failure), or ctx expiry.
	Dial(ctx context.Context, dialString string) (Channel, error)

	// WaitForHook blocks until sensor's loop transitions away from
	// fromState, returning the state it transitioned to.
	WaitForHook(ctx context.Context, sensor model.SensorID, fromState HookState) (HookState, error)

	// PlayTone plays a single alert tone at freqHz for dur, used as the
	// keypad PIN prompt when no audio file is configured.
	PlayTone(ctx context.Context, freqHz int, dur time.Duration) error

	// PlayAudio plays a named audio file, used for keypad prompts and
	// confirmation tones when configured.
	PlayAudio(ctx context.Context, path string) error

	// CollectDTMF prompts (if promptAudio is non-empty, else relies on the
	// caller having already played a prompt) and reads up to maxDigits of
	// DTMF, terminated early by '#' or by timeout.
	CollectDTMF(ctx context.Context, promptAudio string, maxDigits int, timeout time.Duration) (string, error)
}

// Channel is a single live call leg used by the phone-fallback transport
// and by keypad egress origination.
type Channel interface {
	// WaitAnswer blocks until the far end answers or timeout/ctx expires.
	WaitAnswer(ctx context.Context, timeout time.Duration) error

	// SendDTMF transmits digits (and any literal '*'/'#' framing
	// characters) as DTMF tones.
	SendDTMF(ctx context.Context, digits string) error

	// ReadFramed reads DTMF digits up to and including terminator, or
	// times out.
	ReadFramed(ctx context.Context, terminator byte, timeout time.Duration) ([]byte, error)

	// ParkAutoservice parks the channel into audio autoservice so the far
	// end can be held without consuming a dedicated listener goroutine.
	ParkAutoservice(ctx context.Context) error

	// HangUp tears down the call. Safe to call more than once.
	HangUp() error
}
