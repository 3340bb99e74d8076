package database

import (
	"context"
	"errors"

	"github.com/npezzotti/synapse-chat/internal/types"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// MessageStore persists chat messages. Implementations must be safe for
// concurrent use.
type MessageStore interface {
	Ping(ctx context.Context) error
	Append(ctx context.Context, chatId string, msg types.Message) error
	// List returns one page of a chat's history in chronological order along
	// with the total number of stored messages. Page 1 holds the newest
	// messages.
	List(ctx context.Context, chatId string, page, limit int) ([]types.Message, int, error)
	Close() error
}

type AccountStore interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountById(ctx context.Context, id string) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
}

// NormalizePage clamps page and limit to the supported range.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// pageBounds returns the half-open index range [start, end) of the requested
// page within a chronologically ordered history of total messages.
func pageBounds(total, page, limit int) (int, int) {
	end := total - (page-1)*limit
	if end <= 0 {
		return 0, 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return start, end
}
