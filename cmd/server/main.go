package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/synapse-chat/internal/api"
	"github.com/npezzotti/synapse-chat/internal/config"
	"github.com/npezzotti/synapse-chat/internal/database"
	"github.com/npezzotti/synapse-chat/internal/server"
	"github.com/npezzotti/synapse-chat/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr            string
	store           string
	dsn             string
	signingKey      string
	allowedOrigins  stringSliceFlag
	typingTimeout   time.Duration
	roomIdleTimeout time.Duration
	roomBacklog     int
)

func openStore(ctx context.Context, cfg *config.Config) (database.MessageStore, error) {
	switch cfg.Store {
	case config.StorePostgres:
		return database.NewPgMessageStore(cfg.StoreDSN)
	case config.StoreRedis:
		return database.NewRedisMessageStore(ctx, cfg.StoreDSN)
	case config.StoreMemory:
		return database.NewMemoryMessageStore(), nil
	}

	return nil, fmt.Errorf("unsupported store %q", cfg.Store)
}

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&store, "store", string(config.StoreMemory), "message store backend: memory, postgres or redis")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string or redis url for the message store")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&typingTimeout, "typing-timeout", config.DefaultTypingTimeout, "how long a typing indicator lives without a refresh")
	flag.DurationVar(&roomIdleTimeout, "room-idle-timeout", config.DefaultRoomIdleTimeout, "how long an empty room is kept before it is pruned")
	flag.IntVar(&roomBacklog, "room-backlog", config.DefaultRoomBacklog, "messages kept per room for replay on rejoin")
	flag.Parse()

	logger := log.New(os.Stderr, "[synapse] ", log.LstdFlags)

	cfg, err := config.NewConfig(config.Options{
		ServerAddr:      addr,
		Store:           store,
		StoreDSN:        dsn,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		TypingTimeout:   typingTimeout,
		RoomIdleTimeout: roomIdleTimeout,
		RoomBacklog:     roomBacklog,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	openCtx, cancelOpen := context.WithTimeout(context.Background(), 10*time.Second)
	messages, err := openStore(openCtx, cfg)
	cancelOpen()
	if err != nil {
		logger.Fatal("store open:", err)
	}
	defer func() {
		if err := messages.Close(); err != nil {
			logger.Println("store close:", err)
		}
	}()
	logger.Printf("using %s message store\n", cfg.Store)

	accounts, err := database.NewMemoryAccountStore()
	if err != nil {
		logger.Fatal("account store:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, messages, statsUpdater, server.Options{
		TypingTimeout:   cfg.TypingTimeout,
		RoomIdleTimeout: cfg.RoomIdleTimeout,
		RoomBacklog:     cfg.RoomBacklog,
	})
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewChatApp(mux, logger, chatServer, messages, accounts, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
