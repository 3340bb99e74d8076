package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/synapse-chat/internal/config"
	"github.com/npezzotti/synapse-chat/internal/database"
	"github.com/npezzotti/synapse-chat/internal/server"
)

const Version = "1.0.0"

type ChatApp struct {
	log            *log.Logger
	messages       database.MessageStore
	accounts       database.AccountStore
	mux            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

func NewChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, messages database.MessageStore,
	accounts database.AccountStore, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		messages:       messages,
		accounts:       accounts,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/chat/{chatId}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/chat/{chatId}/messages", s.authMiddleware(s.postMessage))
	mux.HandleFunc("GET /api/chat/{chatId}/members", s.authMiddleware(s.getMembers))
	mux.HandleFunc("GET /api/chat/{chatId}/typing", s.authMiddleware(s.getTyping))
	mux.HandleFunc("GET /api/presence", s.authMiddleware(s.getPresence))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *ChatApp) Handler() http.Handler {
	return s.mux.Handler
}

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
