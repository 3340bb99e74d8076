package server

import (
	"slices"
	"time"

	"github.com/npezzotti/synapse-chat/internal/stats"
)

type Room struct {
	chatId  string
	members map[string]*Client
	// seq is the sequence number of the last message relayed to the room
	seq     uint64
	backlog *backlog
	// idleTimer unloads the room once it has been empty for RoomIdleTimeout
	idleTimer *time.Timer
	idleGen   uint64
}

type roomPrune struct {
	chatId string
	gen    uint64
}

func roomName(chatId string) string {
	return "chat_" + chatId
}

func (r *Room) memberIds() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

func (r *Room) stopIdleTimer() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	r.idleGen++
}

func (cs *ChatServer) loadRoom(chatId string) *Room {
	if room, ok := cs.rooms[chatId]; ok {
		return room
	}

	room := &Room{
		chatId:  chatId,
		members: make(map[string]*Client),
		seq:     cs.seqs[chatId],
		backlog: newBacklog(cs.opts.RoomBacklog),
	}
	cs.rooms[chatId] = room
	cs.stats.Incr(stats.ActiveRooms)
	cs.log.Printf("created room %q", roomName(chatId))

	return room
}

// join adds c to chatId and replays any backlog newer than lastSeq to c.
func (cs *ChatServer) join(c *Client, chatId string, lastSeq uint64) {
	room := cs.loadRoom(chatId)
	room.stopIdleTimer()

	if _, ok := room.members[c.id]; !ok {
		room.members[c.id] = c
		c.rooms[chatId] = struct{}{}
		cs.log.Printf("connection %s (%s) joined room %q", c.id, c.user.Id, roomName(chatId))

		cs.dispatch(EventUserOnline, chatId, PresenceChange{
			UserId:       c.user.Id,
			ConnectionId: c.id,
			ChatId:       chatId,
			IsOnline:     true,
			Timestamp:    cs.now(),
		}, c)
	}

	if lastSeq > 0 {
		for _, msg := range room.backlog.since(lastSeq) {
			c.queueMessage(msg)
		}
	}
}

// leave removes c from chatId. Leaving a room that c is not a member of does
// nothing.
func (cs *ChatServer) leave(c *Client, chatId string) {
	room, ok := cs.rooms[chatId]
	if !ok {
		return
	}
	if _, ok := room.members[c.id]; !ok {
		return
	}

	cs.clearTyping(c, chatId, true)
	cs.removeMember(room, c)
	cs.log.Printf("connection %s (%s) left room %q", c.id, c.user.Id, roomName(chatId))

	cs.dispatch(EventUserOffline, chatId, PresenceChange{
		UserId:       c.user.Id,
		ConnectionId: c.id,
		ChatId:       chatId,
		IsOnline:     false,
		Timestamp:    cs.now(),
	}, c)
}

// removeMember drops the membership from both sides and schedules the room
// for pruning once it is empty.
func (cs *ChatServer) removeMember(room *Room, c *Client) {
	delete(room.members, c.id)
	delete(c.rooms, room.chatId)
	cs.maybePrune(room)
}

func (cs *ChatServer) maybePrune(room *Room) {
	if len(room.members) > 0 {
		return
	}

	if cs.opts.RoomIdleTimeout <= 0 {
		cs.deleteRoom(room)
		return
	}

	room.stopIdleTimer()
	p := roomPrune{chatId: room.chatId, gen: room.idleGen}
	room.idleTimer = time.AfterFunc(cs.opts.RoomIdleTimeout, func() {
		select {
		case cs.pruneRoomChan <- p:
		case <-cs.done:
		}
	})
}

func (cs *ChatServer) handlePruneRoom(p roomPrune) {
	room, ok := cs.rooms[p.chatId]
	if !ok || room.idleGen != p.gen || len(room.members) > 0 {
		return
	}

	cs.log.Printf("room %q idle, unloading", roomName(room.chatId))
	cs.deleteRoom(room)
}

func (cs *ChatServer) deleteRoom(room *Room) {
	room.stopIdleTimer()
	for _, c := range room.members {
		delete(c.rooms, room.chatId)
	}
	cs.seqs[room.chatId] = room.seq
	delete(cs.rooms, room.chatId)
	cs.stats.Decr(stats.ActiveRooms)
}
