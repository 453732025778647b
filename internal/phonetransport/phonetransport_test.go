package phonetransport_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/malbeclabs/alarmcore/internal/model"
	"github.com/malbeclabs/alarmcore/internal/phonetransport"
	"github.com/malbeclabs/alarmcore/internal/telephony"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	sent   []string
	replies [][]byte
}

func (c *fakeChannel) WaitAnswer(ctx context.Context, timeout time.Duration) error { return nil }

func (c *fakeChannel) SendDTMF(ctx context.Context, digits string) error {
	c.sent = append(c.sent, digits)
	return nil
}

func (c *fakeChannel) ReadFramed(ctx context.Context, terminator byte, timeout time.Duration) ([]byte, error) {
	if len(c.replies) == 0 {
		return nil, errors.New("no more scripted replies")
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r, nil
}

func (c *fakeChannel) ParkAutoservice(ctx context.Context) error { return nil }
func (c *fakeChannel) HangUp() error                             { return nil }

type fakeTelephony struct {
	ch      *fakeChannel
	dialErr error
}

func (t *fakeTelephony) Dial(ctx context.Context, dialString string) (telephony.Channel, error) {
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	return t.ch, nil
}

func (t *fakeTelephony) WaitForHook(ctx context.Context, sensor model.SensorID, fromState telephony.HookState) (telephony.HookState, error) {
	return fromState, nil
}
func (t *fakeTelephony) PlayTone(ctx context.Context, freqHz int, dur time.Duration) error { return nil }
func (t *fakeTelephony) PlayAudio(ctx context.Context, path string) error                  { return nil }
func (t *fakeTelephony) CollectDTMF(ctx context.Context, promptAudio string, maxDigits int, timeout time.Duration) (string, error) {
	return "", nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDialHandshakeAndSendEvent(t *testing.T) {
	ch := &fakeChannel{replies: [][]byte{[]byte("*"), []byte("2#")}}
	tel := &fakeTelephony{ch: ch}
	tr := phonetransport.New(silentLogger(), tel, phonetransport.Config{DialString: "555-0100"})

	session, err := tr.Dial(context.Background())
	require.NoError(t, err)

	require.NoError(t, session.Handshake(context.Background(), "1A2B", "1234"))
	require.Equal(t, []string{"1A2B*", "1234*"}, ch.sent)

	require.NoError(t, session.SendEvent(context.Background(), []byte("1*0405*1*S1*#")))

	ack, err := session.Finish(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(2), ack)
	require.Equal(t, []string{"1A2B*", "1234*", "1*0405*1*S1*#", "#"}, ch.sent)
}

func TestDialRetriesOnFailure(t *testing.T) {
	tel := &fakeTelephony{dialErr: errors.New("busy")}
	tr := phonetransport.New(silentLogger(), tel, phonetransport.Config{
		DialString:     "555-0100",
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxRetries:     2,
	})

	_, err := tr.Dial(context.Background())
	require.Error(t, err)
}
