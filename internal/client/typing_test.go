package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingSender struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSender) Send(event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSender) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestTypingNotifier_AutoStop(t *testing.T) {
	sender := &recordingSender{}
	n := NewTypingNotifier(sender, "chat_1", 20*time.Millisecond)

	assert.NoError(t, n.Keystroke())
	assert.NoError(t, n.Keystroke())
	assert.True(t, n.Typing())
	assert.Equal(t, []string{"typing_start"}, sender.all(), "expected one typing_start per burst")

	assert.Eventually(t, func() bool {
		return !n.Typing()
	}, time.Second, 5*time.Millisecond, "expected typing to stop after inactivity")
	assert.Equal(t, []string{"typing_start", "typing_stop"}, sender.all())
}

func TestTypingNotifier_ExplicitStop(t *testing.T) {
	sender := &recordingSender{}
	n := NewTypingNotifier(sender, "chat_1", time.Hour)

	assert.NoError(t, n.Stop(), "expected stop without typing to be a no-op")
	assert.Empty(t, sender.all())

	assert.NoError(t, n.Keystroke())
	assert.NoError(t, n.Stop())
	assert.NoError(t, n.Stop())
	assert.False(t, n.Typing())
	assert.Equal(t, []string{"typing_start", "typing_stop"}, sender.all())
}

func TestTypingNotifier_RefreshesLongBursts(t *testing.T) {
	sender := &recordingSender{}
	n := NewTypingNotifier(sender, "chat_1", time.Hour)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	assert.NoError(t, n.Keystroke())
	now = now.Add(30 * time.Minute)
	assert.NoError(t, n.Keystroke())
	now = now.Add(31 * time.Minute)
	assert.NoError(t, n.Keystroke())

	assert.Equal(t, []string{"typing_start", "typing_start"}, sender.all(),
		"expected typing_start to be repeated once per timeout window")
	assert.NoError(t, n.Stop())
}

func TestNewTypingNotifier_DefaultTimeout(t *testing.T) {
	n := NewTypingNotifier(&recordingSender{}, "chat_1", 0)
	assert.Equal(t, DefaultTypingTimeout, n.timeout)
}

func TestTypingNotifier_Reset(t *testing.T) {
	sender := &recordingSender{}
	n := NewTypingNotifier(sender, "chat_1", 20*time.Millisecond)

	assert.NoError(t, n.Keystroke())
	n.Reset()
	assert.False(t, n.Typing())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"typing_start"}, sender.all(), "expected reset burst not to send typing_stop")

	assert.NoError(t, n.Keystroke())
	assert.Equal(t, []string{"typing_start", "typing_start"}, sender.all(), "expected a new burst after reset")
	assert.NoError(t, n.Stop())
}
