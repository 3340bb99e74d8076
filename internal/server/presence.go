package server

import (
	"slices"
	"strings"

	"github.com/npezzotti/synapse-chat/internal/types"
)

func (cs *ChatServer) setOnline(c *Client) {
	now := cs.now()
	cs.presence[c.id] = types.Presence{
		ConnectionId: c.id,
		UserId:       c.user.Id,
		IsOnline:     true,
		LastSeen:     now,
	}

	cs.dispatch(EventUserOnline, "", PresenceChange{
		UserId:       c.user.Id,
		ConnectionId: c.id,
		IsOnline:     true,
		Timestamp:    now,
	}, c)
}

func (cs *ChatServer) setOffline(c *Client) {
	now := cs.now()
	cs.presence[c.id] = types.Presence{
		ConnectionId: c.id,
		UserId:       c.user.Id,
		IsOnline:     false,
		LastSeen:     now,
	}
	cs.lastSeen[c.user.Id] = now

	cs.dispatch(EventUserOffline, "", PresenceChange{
		UserId:       c.user.Id,
		ConnectionId: c.id,
		IsOnline:     false,
		Timestamp:    now,
	}, c)
}

func (cs *ChatServer) updateStatus(c *Client, online bool) {
	if online {
		cs.setOnline(c)
	} else {
		cs.setOffline(c)
	}
}

func (cs *ChatServer) presenceSnapshot() []types.Presence {
	records := make([]types.Presence, 0, len(cs.presence))
	for _, p := range cs.presence {
		if p.IsOnline {
			records = append(records, p)
		}
	}
	slices.SortFunc(records, func(a, b types.Presence) int {
		return strings.Compare(a.ConnectionId, b.ConnectionId)
	})

	return records
}
