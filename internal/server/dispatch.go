package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/synapse-chat/internal/stats"
	"github.com/npezzotti/synapse-chat/internal/types"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	errMissingData    = errors.New("missing event data")
	errMissingChatId  = errors.New("chatId is required")
)

// dispatch builds an outbound event and delivers it. A non-empty chatId
// targets the members of that room; an empty one targets every connection.
// origin never receives its own event.
func (cs *ChatServer) dispatch(event, chatId string, data any, origin *Client) {
	cs.deliver(chatId, newServerMessage(event, data), origin)
}

func (cs *ChatServer) deliver(chatId string, msg *ServerMessage, origin *Client) {
	if chatId == "" {
		for _, c := range cs.clients {
			if c != origin {
				c.queueMessage(msg)
			}
		}
		return
	}

	room, ok := cs.rooms[chatId]
	if !ok {
		return
	}
	for _, c := range room.members {
		if c != origin {
			c.queueMessage(msg)
		}
	}
}

func (cs *ChatServer) handleClientMessage(msg *ClientMessage) {
	c := msg.client
	if c == nil {
		return
	}
	if _, ok := cs.clients[c.id]; !ok {
		// events still queued from a connection that already went away
		return
	}

	switch msg.Event {
	case EventJoinChat, EventLeaveChat:
		var ref ChatRef
		if err := decodeData(msg.Data, &ref); err != nil || ref.ChatId == "" {
			c.queueMessage(ErrInvalidInput(msg.Event, invalidReason(err)))
			return
		}

		if msg.Event == EventJoinChat {
			cs.join(c, ref.ChatId, ref.LastSeq)
		} else {
			cs.leave(c, ref.ChatId)
		}
	case EventMessageSent:
		var sent MessageSent
		if err := decodeData(msg.Data, &sent); err != nil {
			c.queueMessage(ErrInvalidInput(msg.Event, invalidReason(err)))
			return
		}

		chatId := sent.ChatId
		if chatId == "" {
			chatId = sent.Message.ChatId
		}

		if _, err := cs.sendMessage(c, chatId, c.user, sent.Message); err != nil {
			if errors.Is(err, ErrInvalidMessage) {
				c.queueMessage(ErrInvalidInput(msg.Event, err.Error()))
				return
			}
			c.queueMessage(ErrMessageSendFailed(chatId))
		}
	case EventTypingStart, EventTypingStop:
		var typing TypingEvent
		if err := decodeData(msg.Data, &typing); err != nil || typing.ChatId == "" {
			c.queueMessage(ErrInvalidInput(msg.Event, invalidReason(err)))
			return
		}

		if msg.Event == EventTypingStart {
			cs.startTyping(c, typing.ChatId)
		} else {
			cs.stopTyping(c, typing.ChatId)
		}
	case EventUpdateStatus:
		var status UpdateStatus
		if err := decodeData(msg.Data, &status); err != nil {
			c.queueMessage(ErrInvalidInput(msg.Event, invalidReason(err)))
			return
		}
		cs.updateStatus(c, status.IsOnline)
	case EventError:
		cs.log.Printf("connection %s reported error: %s", c.id, string(msg.Data))
	default:
		cs.log.Printf("connection %s sent unknown event %q", c.id, msg.Event)
		c.queueMessage(ErrInvalidInput(msg.Event, "unknown event"))
	}
}

// sendMessage stores msg and relays it as message_received to the room,
// excluding origin. Nothing is relayed when the store rejects the message.
func (cs *ChatServer) sendMessage(origin *Client, chatId string, sender types.User, msg types.Message) (types.Message, error) {
	if chatId == "" {
		return types.Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, errMissingChatId)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return types.Message{}, fmt.Errorf("%w: content is required", ErrInvalidMessage)
	}

	id, err := cs.sid.Generate()
	if err != nil {
		return types.Message{}, fmt.Errorf("generate message id: %w", err)
	}

	msg.Id = "msg_" + id
	msg.ChatId = chatId
	msg.SenderId = sender.Id
	msg.Status = types.MessageStatusSent
	msg.Timestamp = cs.now()
	if msg.Type == "" {
		msg.Type = types.MessageTypeText
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := cs.db.Append(ctx, chatId, msg); err != nil {
		cs.log.Printf("append message to %q: %v", roomName(chatId), err)
		return types.Message{}, err
	}

	if origin != nil {
		cs.clearTyping(origin, chatId, true)
	}

	room, ok := cs.rooms[chatId]
	if !ok {
		return msg, nil
	}

	room.seq++
	out := newServerMessage(EventMessageReceived, MessageReceived{
		Message:   msg,
		Seq:       room.seq,
		Timestamp: msg.Timestamp,
	})
	room.backlog.add(room.seq, out)
	cs.deliver(chatId, out, origin)
	cs.stats.Incr(stats.MessagesDispatched)

	return msg, nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errMissingData
	}

	return json.Unmarshal(raw, v)
}

func invalidReason(err error) string {
	if err == nil {
		return errMissingChatId.Error()
	}
	return err.Error()
}
