package client

import (
	"sync"
	"time"
)

const DefaultTypingTimeout = 3 * time.Second

type eventSender interface {
	Send(event string, data any) error
}

type typingPayload struct {
	ChatId string `json:"chatId"`
}

// TypingNotifier turns keystrokes into typing_start/typing_stop events for one
// chat. typing_stop is sent by itself after timeout without input, and
// typing_start is repeated every timeout while input continues so the
// server-side indicator does not expire mid-burst.
type TypingNotifier struct {
	sender    eventSender
	chatId    string
	timeout   time.Duration
	mu        sync.Mutex
	typing    bool
	lastStart time.Time
	timer     *time.Timer
	gen       uint64
	now       func() time.Time
}

func NewTypingNotifier(sender eventSender, chatId string, timeout time.Duration) *TypingNotifier {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}

	return &TypingNotifier{
		sender:  sender,
		chatId:  chatId,
		timeout: timeout,
		now:     time.Now,
	}
}

func (n *TypingNotifier) Keystroke() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		n.timer.Stop()
	}
	n.gen++
	gen := n.gen
	n.timer = time.AfterFunc(n.timeout, func() { n.expire(gen) })

	now := n.now()
	if n.typing && now.Sub(n.lastStart) < n.timeout {
		return nil
	}

	n.typing = true
	n.lastStart = now
	return n.sender.Send("typing_start", typingPayload{ChatId: n.chatId})
}

func (n *TypingNotifier) expire(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if gen != n.gen {
		return
	}
	n.stopLocked()
}

// Stop ends the current burst. It does nothing when not typing.
func (n *TypingNotifier) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopLocked()
}

// Reset ends the current burst without sending typing_stop. The server clears
// the indicator itself when the message is delivered.
func (n *TypingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.typing = false
}

func (n *TypingNotifier) stopLocked() error {
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if !n.typing {
		return nil
	}

	n.typing = false
	return n.sender.Send("typing_stop", typingPayload{ChatId: n.chatId})
}

func (n *TypingNotifier) Typing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.typing
}
