package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
)

const (
	DefaultTypingTimeout   = 5 * time.Second
	DefaultRoomIdleTimeout = 30 * time.Second
	DefaultRoomBacklog     = 50
)

type Config struct {
	ServerAddr      string
	Store           StoreBackend
	StoreDSN        string
	SigningKey      []byte
	AllowedOrigins  []string
	TypingTimeout   time.Duration
	RoomIdleTimeout time.Duration
	RoomBacklog     int
}

// Options carries the raw values collected from flags before validation.
type Options struct {
	ServerAddr      string
	Store           string
	StoreDSN        string
	SigningKey      string
	AllowedOrigins  []string
	TypingTimeout   time.Duration
	RoomIdleTimeout time.Duration
	RoomBacklog     int
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(opts Options) (*Config, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if opts.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	store := StoreBackend(opts.Store)
	switch store {
	case "":
		store = StoreMemory
	case StoreMemory:
	case StorePostgres, StoreRedis:
		if opts.StoreDSN == "" {
			return nil, fmt.Errorf("%s store requires a DSN", store)
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Store)
	}

	if opts.TypingTimeout < 0 {
		return nil, fmt.Errorf("typing timeout cannot be negative")
	}
	if opts.RoomBacklog < 0 {
		return nil, fmt.Errorf("room backlog cannot be negative")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(opts.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:      opts.ServerAddr,
		Store:           store,
		StoreDSN:        opts.StoreDSN,
		SigningKey:      signingKey,
		AllowedOrigins:  opts.AllowedOrigins,
		TypingTimeout:   opts.TypingTimeout,
		RoomIdleTimeout: opts.RoomIdleTimeout,
		RoomBacklog:     opts.RoomBacklog,
	}

	if cfg.TypingTimeout == 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	if cfg.RoomBacklog == 0 {
		cfg.RoomBacklog = DefaultRoomBacklog
	}

	return cfg, nil
}
