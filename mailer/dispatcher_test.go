package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForMessages(t *testing.T, sender *MemorySender, n int) []Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := sender.Messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(sender.Messages()))
	return nil
}

func TestDispatcherDeliversAllKinds(t *testing.T) {
	sender := NewMemorySender()
	d := NewDispatcher(Config{
		VerificationTTL: 24 * time.Hour,
		OtpTTL:          5 * time.Minute,
		LockDuration:    30 * time.Minute,
	}, sender, nil)
	defer d.Close()

	ctx := context.Background()
	d.SendVerification(ctx, "alice@example.com", "tok-abc")
	d.SendOtp(ctx, "alice@example.com", "123456")
	d.SendAccountLocked(ctx, "alice@example.com")

	msgs := waitForMessages(t, sender, 3)
	bySubject := make(map[string]Message, len(msgs))
	for _, m := range msgs {
		assert.Equal(t, "alice@example.com", m.To)
		bySubject[m.Subject] = m
	}

	verification, ok := bySubject["Confirm your email address"]
	require.True(t, ok)
	assert.Contains(t, verification.HTML, "tok-abc")
	assert.Contains(t, verification.HTML, "24 hours")

	otp, ok := bySubject["Your login code"]
	require.True(t, ok)
	assert.Contains(t, otp.HTML, "123456")
	assert.Contains(t, otp.HTML, "5 minutes")

	locked, ok := bySubject["Account temporarily locked"]
	require.True(t, ok)
	assert.Contains(t, locked.HTML, "30 minutes")
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	sender := NewMemorySender()
	// A failing sender keeps the worker busy retrying, so queued jobs pile
	// up behind it.
	sender.FailWith(errors.New("smtp down"))

	d := NewDispatcher(Config{QueueSize: 1, OtpTTL: 5 * time.Minute}, sender, nil)
	defer d.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		d.SendOtp(ctx, "alice@example.com", "123456")
	}

	assert.NotZero(t, d.Dropped(), "overflow must be counted, not blocked on")
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	sender := NewMemorySender()
	d := NewDispatcher(Config{QueueSize: 16, OtpTTL: 5 * time.Minute}, sender, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.SendOtp(ctx, "alice@example.com", "123456")
	}
	d.Close()

	assert.Len(t, sender.Messages(), 5, "Close must drain queued mail")

	// After Close new messages are dropped.
	before := d.Dropped()
	d.SendOtp(ctx, "alice@example.com", "123456")
	assert.Equal(t, before+1, d.Dropped())
}

func TestRecipientMasking(t *testing.T) {
	d := NewDispatcher(Config{MaskRecipientInLogs: true}, NewMemorySender(), nil)
	defer d.Close()

	masked := d.recipient("alice@example.com")
	assert.NotEqual(t, "alice@example.com", masked)
	assert.True(t, strings.HasSuffix(masked, "@example.com"))

	d.config.MaskRecipientInLogs = false
	assert.Equal(t, "alice@example.com", d.recipient("alice@example.com"))
}

func TestHumanDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{time.Hour, "1 hour"},
		{24 * time.Hour, "24 hours"},
		{time.Minute, "1 minute"},
		{30 * time.Minute, "30 minutes"},
		{90 * time.Minute, "90 minutes"},
		{45 * time.Second, "45s"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, humanDuration(tc.in), "humanDuration(%v)", tc.in)
	}
}
