package server

import (
	"slices"
	"time"

	"github.com/npezzotti/synapse-chat/internal/stats"
)

type typingKey struct {
	connectionId string
	chatId       string
}

type typingState struct {
	userId string
	timer  *time.Timer
	gen    uint64
}

type typingExpiry struct {
	key typingKey
	gen uint64
}

// startTyping relays typing_start and (re)arms the expiry timer for the
// connection in chatId. Repeated starts are relayed every time.
func (cs *ChatServer) startTyping(c *Client, chatId string) {
	key := typingKey{connectionId: c.id, chatId: chatId}

	ts, ok := cs.typing[key]
	if !ok {
		ts = &typingState{userId: c.user.Id}
		cs.typing[key] = ts
	} else {
		ts.timer.Stop()
	}
	ts.gen++

	exp := typingExpiry{key: key, gen: ts.gen}
	ts.timer = time.AfterFunc(cs.opts.TypingTimeout, func() {
		select {
		case cs.typingExpiredChan <- exp:
		case <-cs.done:
		}
	})

	cs.dispatch(EventTypingStart, chatId, cs.typingChange(c, chatId), c)
}

func (cs *ChatServer) stopTyping(c *Client, chatId string) {
	key := typingKey{connectionId: c.id, chatId: chatId}
	if ts, ok := cs.typing[key]; ok {
		ts.timer.Stop()
		delete(cs.typing, key)
	}

	cs.dispatch(EventTypingStop, chatId, cs.typingChange(c, chatId), c)
}

// clearTyping drops any typing state c holds in chatId, relaying typing_stop
// only when the connection was actually typing.
func (cs *ChatServer) clearTyping(c *Client, chatId string, notify bool) {
	key := typingKey{connectionId: c.id, chatId: chatId}
	ts, ok := cs.typing[key]
	if !ok {
		return
	}

	ts.timer.Stop()
	delete(cs.typing, key)

	if notify {
		cs.dispatch(EventTypingStop, chatId, cs.typingChange(c, chatId), c)
	}
}

// clearAllTyping drops every typing state held by c, including chats it
// never joined, relaying typing_stop for each.
func (cs *ChatServer) clearAllTyping(c *Client) {
	var chatIds []string
	for key := range cs.typing {
		if key.connectionId == c.id {
			chatIds = append(chatIds, key.chatId)
		}
	}
	slices.Sort(chatIds)

	for _, chatId := range chatIds {
		cs.clearTyping(c, chatId, true)
	}
}

func (cs *ChatServer) handleTypingExpired(exp typingExpiry) {
	ts, ok := cs.typing[exp.key]
	if !ok || ts.gen != exp.gen {
		return
	}
	delete(cs.typing, exp.key)
	cs.stats.Incr(stats.TypingExpired)

	c, ok := cs.clients[exp.key.connectionId]
	if !ok {
		return
	}

	cs.log.Printf("typing expired for connection %s in room %q", c.id, roomName(exp.key.chatId))
	cs.dispatch(EventTypingStop, exp.key.chatId, cs.typingChange(c, exp.key.chatId), c)
}

func (cs *ChatServer) typingChange(c *Client, chatId string) TypingChange {
	return TypingChange{
		ChatId:       chatId,
		UserId:       c.user.Id,
		ConnectionId: c.id,
		Timestamp:    cs.now(),
	}
}

func (cs *ChatServer) typingUsers(chatId string) []string {
	seen := make(map[string]struct{})
	users := []string{}
	for key, ts := range cs.typing {
		if key.chatId != chatId {
			continue
		}
		if _, ok := seen[ts.userId]; ok {
			continue
		}
		seen[ts.userId] = struct{}{}
		users = append(users, ts.userId)
	}
	slices.Sort(users)

	return users
}
