package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/synapse-chat/internal/config"
	"github.com/npezzotti/synapse-chat/internal/database"
	"github.com/npezzotti/synapse-chat/internal/server"
	"github.com/npezzotti/synapse-chat/internal/stats"
	"github.com/npezzotti/synapse-chat/internal/testutil"
	"github.com/npezzotti/synapse-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var testSigningKey = []byte("test-signing-key")

type testEnv struct {
	app      *ChatApp
	cs       *server.ChatServer
	messages database.MessageStore
	accounts *database.MemoryAccountStore
}

// newTestEnv wires an app to a running chat server and in-memory stores.
func newTestEnv(t *testing.T, messages database.MessageStore) *testEnv {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, messages, su, server.Options{RoomIdleTimeout: time.Minute})
	if err != nil {
		t.Fatalf("failed to create chat server: %v", err)
	}
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	accounts, err := database.NewMemoryAccountStore()
	if err != nil {
		t.Fatalf("failed to create account store: %v", err)
	}

	app := NewChatApp(http.NewServeMux(), logger, cs, messages, accounts, &config.Config{
		ServerAddr:     "localhost:8000",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	return &testEnv{app: app, cs: cs, messages: messages, accounts: accounts}
}

// createUser stores an account with password "password" and returns it with
// a valid session token.
func (e *testEnv) createUser(t *testing.T, username string) (types.User, string) {
	hash, err := hashPassword("password")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	acc, err := e.accounts.CreateAccount(context.Background(), database.CreateAccountParams{
		Username:     username,
		EmailAddress: username + "@example.com",
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	user := accountToUser(acc)
	token, err := e.app.createJwtForSession(user, time.Hour)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	return user, token
}

func TestNewChatApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	messages := &database.MockMessageStore{}
	accounts := &database.MockAccountStore{}
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewChatApp(mux, logger, cs, messages, accounts, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.mux, "expected http server to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, messages, app.messages, "expected message store to be set")
	assert.Equal(t, accounts, app.accounts, "expected account store to be set")
	assert.Equal(t, cs, app.cs, "expected chat server to be set")
	assert.Equal(t, cfg.SigningKey, app.signingKey, "expected signing key to be set")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins, "expected allowed origins to be set")
	assert.Equal(t, cfg.ServerAddr, app.mux.Addr, "expected server address to match config")
	assert.NotNil(t, app.Handler())
}

func TestChatAppShutdown(t *testing.T) {
	env := newTestEnv(t, database.NewMemoryMessageStore())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, env.app.Shutdown(ctx), "expected shutdown of an idle server to succeed")
}
