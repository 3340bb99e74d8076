package server

import (
	"slices"

	"github.com/npezzotti/synapse-chat/internal/stats"
)

// connect registers c, greets it and announces it to every other connection.
func (cs *ChatServer) connect(c *Client) {
	if _, ok := cs.clients[c.id]; ok {
		return
	}

	cs.clients[c.id] = c
	cs.stats.Incr(stats.ActiveConnections)
	cs.log.Printf("connection %s established for user %q", c.id, c.user.Id)

	c.queueMessage(newServerMessage(EventWelcome, Welcome{
		Message:   "Connected to chat server",
		SocketId:  c.id,
		UserId:    c.user.Id,
		Timestamp: cs.now(),
	}))

	cs.setOnline(c)
}

// disconnect removes c from every room and emits a single user_offline for
// it, unless an earlier update_status already did. Unknown connections are
// ignored.
func (cs *ChatServer) disconnect(c *Client, reason string) {
	if _, ok := cs.clients[c.id]; !ok {
		return
	}

	cs.log.Printf("connection %s for user %q closed: %s", c.id, c.user.Id, reason)

	chatIds := make([]string, 0, len(c.rooms))
	for chatId := range c.rooms {
		chatIds = append(chatIds, chatId)
	}
	slices.Sort(chatIds)

	cs.clearAllTyping(c)
	for _, chatId := range chatIds {
		if room, ok := cs.rooms[chatId]; ok {
			cs.removeMember(room, c)
		} else {
			delete(c.rooms, chatId)
		}
	}

	// a connection that already reported itself offline is not announced twice
	if p, ok := cs.presence[c.id]; ok && !p.IsOnline {
		cs.lastSeen[c.user.Id] = cs.now()
	} else {
		cs.setOffline(c)
	}
	delete(cs.presence, c.id)
	delete(cs.clients, c.id)
	cs.stats.Decr(stats.ActiveConnections)
	c.stopClient()
}
