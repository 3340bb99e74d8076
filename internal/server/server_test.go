package server

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/synapse-chat/internal/database"
	"github.com/npezzotti/synapse-chat/internal/stats"
	"github.com/npezzotti/synapse-chat/internal/testutil"
	"github.com/npezzotti/synapse-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newTestChatServer creates a ChatServer whose stats calls are all allowed.
func newTestChatServer(t *testing.T, db database.MessageStore, opts Options) *ChatServer {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs, err := NewChatServer(testutil.TestLogger(t), db, su, opts)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}
	return cs
}

// newTestClient returns a client without a transport. Outbound events stay in
// its send queue.
func newTestClient(t *testing.T, cs *ChatServer, id, userId string) *Client {
	return &Client{
		id:         id,
		chatServer: cs,
		log:        testutil.TestLogger(t),
		user:       types.User{Id: userId, Username: userId},
		send:       make(chan *ServerMessage, 64),
		rooms:      make(map[string]struct{}),
		stop:       make(chan struct{}),
	}
}

// drain returns every event queued for c.
func drain(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func eventsOf(msgs []*ServerMessage, event string) []*ServerMessage {
	var out []*ServerMessage
	for _, m := range msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockMessageStore{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", stats.ActiveConnections).Once()
	su.On("RegisterMetric", stats.ActiveRooms).Once()
	su.On("RegisterMetric", stats.MessagesDispatched).Once()
	su.On("RegisterMetric", stats.TypingExpired).Once()

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su, Options{})
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, db, cs.db, "expected message store to be set")
	assert.Equal(t, defaultTypingTimeout, cs.opts.TypingTimeout, "expected default typing timeout")
	assert.Equal(t, defaultRoomBacklog, cs.opts.RoomBacklog, "expected default backlog size")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
	assert.NotNil(t, cs.rooms, "expected rooms map to be initialized")
	assert.NotNil(t, cs.presence, "expected presence map to be initialized")
	assert.NotNil(t, cs.typing, "expected typing map to be initialized")
	assert.NotNil(t, cs.inbound, "expected inbound channel to be initialized")
	assert.NotNil(t, cs.stop, "expected stop channel to be initialized")
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockMessageStore{}, Options{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case req := <-cs.stop:
				assert.NotNil(t, req.done, "expected done channel in stop request")
				close(req.done)
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockMessageStore{}, Options{})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		go func() {
			select {
			case <-cs.stop:
				// never acknowledge to simulate a hang
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestChatServerShutdown_Integration(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryMessageStore(), Options{RoomIdleTimeout: time.Minute})
	go cs.Run()

	a := newTestClient(t, cs, "conn_a", "user_a")
	assert.NoError(t, cs.RegisterClient(a), "expected client to register")
	assert.NoError(t, cs.query(context.Background(), func() { cs.join(a, "chat_1", 0) }))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx), "expected successful shutdown")

	select {
	case <-a.stop:
	default:
		t.Error("expected client to be stopped on shutdown")
	}
	assert.Empty(t, cs.rooms, "expected rooms to be closed")
	assert.Empty(t, cs.clients, "expected clients to be removed")

	assert.ErrorIs(t, cs.RegisterClient(newTestClient(t, cs, "conn_b", "user_b")), ErrServerStopped)
	_, err := cs.Members(context.Background(), "chat_1")
	assert.ErrorIs(t, err, ErrServerStopped, "expected queries to fail after shutdown")
	assert.NoError(t, cs.Shutdown(ctx), "expected repeated shutdown to be a no-op")
}

func TestChatServerQueries(t *testing.T) {
	cs := newTestChatServer(t, database.NewMemoryMessageStore(), Options{RoomIdleTimeout: time.Minute})
	go cs.Run()
	defer cs.Shutdown(context.Background())

	a := newTestClient(t, cs, "conn_a", "user_a")
	b := newTestClient(t, cs, "conn_b", "user_b")
	assert.NoError(t, cs.RegisterClient(a))
	assert.NoError(t, cs.RegisterClient(b))

	ctx := context.Background()
	assert.NoError(t, cs.query(ctx, func() {
		cs.join(a, "chat_1", 0)
		cs.join(b, "chat_1", 0)
		cs.startTyping(b, "chat_1")
	}))

	members, err := cs.Members(ctx, "chat_1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"conn_a", "conn_b"}, members)

	members, err = cs.Members(ctx, "chat_404")
	assert.NoError(t, err)
	assert.Empty(t, members, "expected no members for unknown room")

	typing, err := cs.Typing(ctx, "chat_1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"user_b"}, typing)

	presence, err := cs.Presence(ctx)
	assert.NoError(t, err)
	if assert.Len(t, presence, 2) {
		assert.Equal(t, "conn_a", presence[0].ConnectionId)
		assert.Equal(t, "user_a", presence[0].UserId)
		assert.True(t, presence[0].IsOnline)
	}

	sent, err := cs.Publish(ctx, "chat_1", types.User{Id: "user_http"}, types.Message{Content: "from http"})
	assert.NoError(t, err)
	assert.Equal(t, "user_http", sent.SenderId)
	assert.Contains(t, sent.Id, "msg_")

	_, err = cs.Publish(ctx, "chat_1", types.User{Id: "user_http"}, types.Message{})
	assert.ErrorIs(t, err, ErrInvalidMessage, "expected empty content to be rejected")

	cs.unregister(a, "test")
	_, ok, err := cs.LastSeen(ctx, "user_a")
	assert.NoError(t, err)
	assert.True(t, ok, "expected last seen to be recorded for disconnected user")

	presence, err = cs.Presence(ctx)
	assert.NoError(t, err)
	assert.Len(t, presence, 1, "expected disconnected connection to leave presence")
}

func TestQuery_ContextCanceled(t *testing.T) {
	cs := newTestChatServer(t, &database.MockMessageStore{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cs.Members(ctx, "chat_1")
	assert.ErrorIs(t, err, context.Canceled, "expected canceled context without a running loop")
}

func TestQuery_CanceledAfterAccept(t *testing.T) {
	cs := newTestChatServer(t, &database.MockMessageStore{}, Options{RoomIdleTimeout: time.Minute})
	a := newTestClient(t, cs, "conn_a", "user_a")
	cs.connect(a)
	cs.join(a, "chat_1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	finished := make(chan struct{})

	// accept the query, let the caller give up, then run it late
	go func() {
		defer close(finished)
		q := <-cs.queryChan
		cancel()
		<-returned
		q.fn()
		close(q.done)
	}()

	members, err := cs.Members(ctx, "chat_1")
	close(returned)
	<-finished

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, members, "expected no result from an abandoned query")
}
