package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/npezzotti/synapse-chat/internal/types"
)

const (
	EventJoinChat        = "join_chat"
	EventLeaveChat       = "leave_chat"
	EventMessageSent     = "message_sent"
	EventMessageReceived = "message_received"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventUpdateStatus    = "update_status"
	EventWelcome         = "welcome"
	EventError           = "error"
)

const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeMessageSendFailed  = "MESSAGE_SEND_FAILED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ClientMessage is an inbound event read from a connection.
type ClientMessage struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	client *Client
}

// ServerMessage is an outbound event. It is shared between recipients and
// must not be mutated after it has been queued.
type ServerMessage struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatRef identifies a chat in join_chat and leave_chat. It decodes from
// either a bare chat id string or an object.
type ChatRef struct {
	ChatId  string `json:"chatId"`
	LastSeq uint64 `json:"lastSeq,omitempty"`
}

func (r *ChatRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ChatId)
	}

	type plain ChatRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = ChatRef(p)
	return nil
}

type MessageSent struct {
	ChatId  string        `json:"chatId"`
	Message types.Message `json:"message"`
}

// TypingEvent is the inbound typing payload. Any userId sent by the client is
// ignored in favour of the identity bound to the connection.
type TypingEvent struct {
	ChatId string `json:"chatId"`
	UserId string `json:"userId,omitempty"`
}

type UpdateStatus struct {
	IsOnline bool `json:"isOnline"`
}

type MessageReceived struct {
	Message   types.Message `json:"message"`
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
}

type PresenceChange struct {
	UserId       string    `json:"userId"`
	ConnectionId string    `json:"connectionId"`
	ChatId       string    `json:"chatId,omitempty"`
	IsOnline     bool      `json:"isOnline"`
	Timestamp    time.Time `json:"timestamp"`
}

type TypingChange struct {
	ChatId       string    `json:"chatId"`
	UserId       string    `json:"userId"`
	ConnectionId string    `json:"connectionId"`
	Timestamp    time.Time `json:"timestamp"`
}

type Welcome struct {
	Message   string    `json:"message"`
	SocketId  string    `json:"socketId"`
	UserId    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func newServerMessage(event string, data any) *ServerMessage {
	return &ServerMessage{
		Event:     event,
		Data:      data,
		Timestamp: Now(),
	}
}

func ErrInvalidInput(event, reason string) *ServerMessage {
	return newServerMessage(EventError, ErrorPayload{
		Code:    ErrCodeInvalidInput,
		Message: reason,
		Event:   event,
	})
}

func ErrMessageSendFailed(chatId string) *ServerMessage {
	return newServerMessage(EventError, ErrorPayload{
		Code:    ErrCodeMessageSendFailed,
		Message: fmt.Sprintf("failed to send message to chat %q", chatId),
		Event:   EventMessageSent,
	})
}

func ErrServiceUnavailable(event string) *ServerMessage {
	return newServerMessage(EventError, ErrorPayload{
		Code:    ErrCodeServiceUnavailable,
		Message: "service unavailable",
		Event:   event,
	})
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
