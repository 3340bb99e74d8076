package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/npezzotti/synapse-chat/internal/database"
	"github.com/npezzotti/synapse-chat/internal/stats"
	"github.com/npezzotti/synapse-chat/internal/types"
	"github.com/teris-io/shortid"
)

const (
	defaultTypingTimeout = 5 * time.Second
	defaultRoomBacklog   = 50
	storeTimeout         = 5 * time.Second
	inboundQueueSize     = 256
	timerEventsQueueSize = 64
)

var ErrServerStopped = errors.New("chat server stopped")

type Options struct {
	TypingTimeout   time.Duration
	RoomIdleTimeout time.Duration
	RoomBacklog     int
}

type stopReq struct {
	done chan struct{}
}

type unregisterReq struct {
	client *Client
	reason string
}

type queryReq struct {
	fn   func()
	done chan struct{}
}

// ChatServer owns every connection, room, presence record and typing timer.
// All of that state is only touched from Run.
type ChatServer struct {
	log   *log.Logger
	db    database.MessageStore
	stats stats.StatsProvider
	opts  Options
	sid   *shortid.Shortid
	now   func() time.Time

	clients  map[string]*Client
	rooms    map[string]*Room
	// seqs outlives rooms so a recreated room continues its chat's sequence
	seqs     map[string]uint64
	presence map[string]types.Presence
	lastSeen map[string]time.Time
	typing   map[typingKey]*typingState

	registerChan      chan *Client
	unregisterChan    chan unregisterReq
	inbound           chan *ClientMessage
	typingExpiredChan chan typingExpiry
	pruneRoomChan     chan roomPrune
	queryChan         chan queryReq
	stop              chan stopReq
	done              chan struct{}
}

func NewChatServer(logger *log.Logger, db database.MessageStore, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = defaultTypingTimeout
	}
	if opts.RoomBacklog <= 0 {
		opts.RoomBacklog = defaultRoomBacklog
	}

	sid, err := shortid.New(1, shortid.DefaultABC, uint64(time.Now().UnixNano()))
	if err != nil {
		return nil, err
	}

	su.RegisterMetric(stats.ActiveConnections)
	su.RegisterMetric(stats.ActiveRooms)
	su.RegisterMetric(stats.MessagesDispatched)
	su.RegisterMetric(stats.TypingExpired)

	return &ChatServer{
		log:               logger,
		db:                db,
		stats:             su,
		opts:              opts,
		sid:               sid,
		now:               Now,
		clients:           make(map[string]*Client),
		rooms:             make(map[string]*Room),
		seqs:              make(map[string]uint64),
		presence:          make(map[string]types.Presence),
		lastSeen:          make(map[string]time.Time),
		typing:            make(map[typingKey]*typingState),
		registerChan:      make(chan *Client),
		unregisterChan:    make(chan unregisterReq),
		inbound:           make(chan *ClientMessage, inboundQueueSize),
		typingExpiredChan: make(chan typingExpiry, timerEventsQueueSize),
		pruneRoomChan:     make(chan roomPrune, timerEventsQueueSize),
		queryChan:         make(chan queryReq),
		stop:              make(chan stopReq),
		done:              make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.registerChan:
			cs.connect(c)
		case req := <-cs.unregisterChan:
			cs.disconnect(req.client, req.reason)
		case msg := <-cs.inbound:
			cs.handleClientMessage(msg)
		case exp := <-cs.typingExpiredChan:
			cs.handleTypingExpired(exp)
		case p := <-cs.pruneRoomChan:
			cs.handlePruneRoom(p)
		case q := <-cs.queryChan:
			q.fn()
			close(q.done)
		case req := <-cs.stop:
			cs.log.Println("shutting down chat server")
			cs.shutdown()
			close(cs.done)
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) shutdown() {
	for key, ts := range cs.typing {
		ts.timer.Stop()
		delete(cs.typing, key)
	}

	for chatId, room := range cs.rooms {
		cs.deleteRoom(room)
		cs.log.Printf("closed room %q", chatId)
	}

	for id, c := range cs.clients {
		delete(cs.clients, id)
		delete(cs.presence, id)
		cs.stats.Decr(stats.ActiveConnections)
		c.stopClient()
	}
}

// Shutdown stops the run loop and closes every connection. It returns
// ctx.Err() if the loop does not stop in time.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (cs *ChatServer) RegisterClient(c *Client) error {
	select {
	case cs.registerChan <- c:
		return nil
	case <-cs.done:
		return ErrServerStopped
	}
}

func (cs *ChatServer) unregister(c *Client, reason string) {
	select {
	case cs.unregisterChan <- unregisterReq{client: c, reason: reason}:
	case <-cs.done:
	}
}

// query runs fn on the run loop and waits for it to finish.
func (cs *ChatServer) query(ctx context.Context, fn func()) error {
	req := queryReq{fn: fn, done: make(chan struct{})}

	select {
	case cs.queryChan <- req:
	case <-cs.done:
		return ErrServerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Members returns the sorted connection ids currently joined to chatId.
func (cs *ChatServer) Members(ctx context.Context, chatId string) ([]string, error) {
	var ids []string
	err := cs.query(ctx, func() {
		if room, ok := cs.rooms[chatId]; ok {
			ids = room.memberIds()
		}
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// Typing returns the sorted user ids currently typing in chatId.
func (cs *ChatServer) Typing(ctx context.Context, chatId string) ([]string, error) {
	var users []string
	err := cs.query(ctx, func() {
		users = cs.typingUsers(chatId)
	})
	if err != nil {
		return nil, err
	}

	return users, nil
}

// Presence returns a snapshot of the online connection records.
func (cs *ChatServer) Presence(ctx context.Context) ([]types.Presence, error) {
	var records []types.Presence
	err := cs.query(ctx, func() {
		records = cs.presenceSnapshot()
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// LastSeen reports when userId last had a connection go offline.
func (cs *ChatServer) LastSeen(ctx context.Context, userId string) (time.Time, bool, error) {
	var (
		ts time.Time
		ok bool
	)
	err := cs.query(ctx, func() {
		ts, ok = cs.lastSeen[userId]
	})
	if err != nil {
		return time.Time{}, false, err
	}

	return ts, ok, nil
}

// Publish stores msg and relays it to every member of chatId. It is used for
// messages that arrive outside a realtime connection.
func (cs *ChatServer) Publish(ctx context.Context, chatId string, sender types.User, msg types.Message) (types.Message, error) {
	var (
		sent types.Message
		err  error
	)
	qerr := cs.query(ctx, func() {
		sent, err = cs.sendMessage(nil, chatId, sender, msg)
	})
	if qerr != nil {
		return types.Message{}, qerr
	}

	return sent, err
}
