package server

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/synapse-chat/internal/database"
	"github.com/npezzotti/synapse-chat/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected repeated stop to be safe")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_submit(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockMessageStore{}, Options{})
		c := newTestClient(t, cs, "conn_a", "user_a")

		c.submit(&ClientMessage{Event: EventJoinChat, client: c})
		assert.Len(t, cs.inbound, 1, "expected event to be queued for the run loop")
		assert.Empty(t, drain(c))
	})

	t.Run("inbound queue full", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockMessageStore{}, Options{})
		cs.inbound = make(chan *ClientMessage)
		c := newTestClient(t, cs, "conn_a", "user_a")

		c.submit(&ClientMessage{Event: EventMessageSent, client: c})
		msgs := drain(c)
		if assert.Len(t, msgs, 1) {
			payload := msgs[0].Data.(ErrorPayload)
			assert.Equal(t, ErrCodeServiceUnavailable, payload.Code)
			assert.Equal(t, EventMessageSent, payload.Event)
		}
	})

	t.Run("server stopped", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockMessageStore{}, Options{})
		cs.inbound = make(chan *ClientMessage)
		close(cs.done)
		c := newTestClient(t, cs, "conn_a", "user_a")

		c.submit(&ClientMessage{Event: EventJoinChat, client: c})
		assert.Empty(t, drain(c), "expected events to be dropped silently after shutdown")
	})
}

func Test_disconnectReason(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "normal close",
			err:      &websocket.CloseError{Code: websocket.CloseNormalClosure},
			expected: "client disconnect",
		},
		{
			name:     "going away",
			err:      &websocket.CloseError{Code: websocket.CloseGoingAway},
			expected: "client disconnect",
		},
		{
			name:     "abnormal close",
			err:      &websocket.CloseError{Code: websocket.CloseAbnormalClosure},
			expected: "transport close: websocket: close 1006 (abnormal closure)",
		},
		{
			name:     "timeout",
			err:      errors.New("i/o timeout"),
			expected: "transport error: i/o timeout",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, disconnectReason(tc.err))
		})
	}
}
