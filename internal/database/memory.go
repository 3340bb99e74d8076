package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/synapse-chat/internal/types"
	"github.com/teris-io/shortid"
)

// MemoryMessageStore keeps messages in process memory. History is lost on
// restart.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string][]types.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[string][]types.Message),
	}
}

func (s *MemoryMessageStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryMessageStore) Append(_ context.Context, chatId string, msg types.Message) error {
	if chatId == "" {
		return fmt.Errorf("append: empty chat id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[chatId] = append(s.messages[chatId], msg)
	return nil
}

func (s *MemoryMessageStore) List(_ context.Context, chatId string, page, limit int) ([]types.Message, int, error) {
	page, limit = NormalizePage(page, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.messages[chatId]
	start, end := pageBounds(len(history), page, limit)

	out := make([]types.Message, end-start)
	copy(out, history[start:end])
	return out, len(history), nil
}

func (s *MemoryMessageStore) Close() error {
	return nil
}

// MemoryAccountStore is the stub identity directory used in place of a real
// user database.
type MemoryAccountStore struct {
	mu      sync.RWMutex
	byId    map[string]Account
	byEmail map[string]string
	sid     *shortid.Shortid
}

func NewMemoryAccountStore() (*MemoryAccountStore, error) {
	sid, err := shortid.New(1, shortid.DefaultABC, uint64(time.Now().UnixNano()))
	if err != nil {
		return nil, fmt.Errorf("shortid: %w", err)
	}

	return &MemoryAccountStore{
		byId:    make(map[string]Account),
		byEmail: make(map[string]string),
		sid:     sid,
	}, nil
}

func (s *MemoryAccountStore) CreateAccount(_ context.Context, params CreateAccountParams) (Account, error) {
	email := strings.ToLower(strings.TrimSpace(params.EmailAddress))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return Account{}, ErrAlreadyExists
	}

	id, err := s.sid.Generate()
	if err != nil {
		return Account{}, fmt.Errorf("generate id: %w", err)
	}

	now := time.Now().UTC()
	acc := Account{
		Id:           "user_" + id,
		Username:     params.Username,
		EmailAddress: email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.byId[acc.Id] = acc
	s.byEmail[email] = acc.Id
	return acc, nil
}

func (s *MemoryAccountStore) GetAccountById(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.byId[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (s *MemoryAccountStore) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Account{}, ErrNotFound
	}
	return s.byId[id], nil
}
