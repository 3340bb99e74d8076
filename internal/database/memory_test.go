package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/npezzotti/synapse-chat/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePage(t *testing.T) {
	tcases := []struct {
		name          string
		page, limit   int
		expectedPage  int
		expectedLimit int
	}{
		{name: "defaults", page: 0, limit: 0, expectedPage: 1, expectedLimit: DefaultPageSize},
		{name: "negative", page: -3, limit: -1, expectedPage: 1, expectedLimit: DefaultPageSize},
		{name: "limit capped", page: 2, limit: 1000, expectedPage: 2, expectedLimit: MaxPageSize},
		{name: "unchanged", page: 3, limit: 10, expectedPage: 3, expectedLimit: 10},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			page, limit := NormalizePage(tc.page, tc.limit)
			assert.Equal(t, tc.expectedPage, page, "expected page to match")
			assert.Equal(t, tc.expectedLimit, limit, "expected limit to match")
		})
	}
}

func Test_pageBounds(t *testing.T) {
	tcases := []struct {
		name               string
		total, page, limit int
		start, end         int
	}{
		{name: "empty history", total: 0, page: 1, limit: 10, start: 0, end: 0},
		{name: "first page is newest", total: 25, page: 1, limit: 10, start: 15, end: 25},
		{name: "second page", total: 25, page: 2, limit: 10, start: 5, end: 15},
		{name: "partial last page", total: 25, page: 3, limit: 10, start: 0, end: 5},
		{name: "past the end", total: 25, page: 4, limit: 10, start: 0, end: 0},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := pageBounds(tc.total, tc.page, tc.limit)
			assert.Equal(t, tc.start, start, "expected start to match")
			assert.Equal(t, tc.end, end, "expected end to match")
		})
	}
}

func TestMemoryMessageStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMessageStore()
	assert.NoError(t, store.Ping(ctx), "expected ping to succeed")

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		err := store.Append(ctx, "chat_1", types.Message{
			Id:        fmt.Sprintf("msg_%d", i),
			ChatId:    "chat_1",
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		assert.NoError(t, err, "expected append to succeed")
	}

	t.Run("newest page in chronological order", func(t *testing.T) {
		msgs, total, err := store.List(ctx, "chat_1", 1, 2)
		assert.NoError(t, err)
		assert.Equal(t, 5, total, "expected total to count all messages")
		if assert.Len(t, msgs, 2) {
			assert.Equal(t, "msg_3", msgs[0].Id)
			assert.Equal(t, "msg_4", msgs[1].Id)
		}
	})

	t.Run("last partial page", func(t *testing.T) {
		msgs, _, err := store.List(ctx, "chat_1", 3, 2)
		assert.NoError(t, err)
		if assert.Len(t, msgs, 1) {
			assert.Equal(t, "msg_0", msgs[0].Id)
		}
	})

	t.Run("unknown chat", func(t *testing.T) {
		msgs, total, err := store.List(ctx, "chat_404", 1, 10)
		assert.NoError(t, err)
		assert.Equal(t, 0, total)
		assert.Empty(t, msgs)
	})

	t.Run("empty chat id rejected", func(t *testing.T) {
		err := store.Append(ctx, "", types.Message{Id: "msg"})
		assert.Error(t, err, "expected error for empty chat id")
	})

	t.Run("list returns a copy", func(t *testing.T) {
		msgs, _, err := store.List(ctx, "chat_1", 1, 1)
		assert.NoError(t, err)
		msgs[0].Content = "mutated"

		again, _, err := store.List(ctx, "chat_1", 1, 1)
		assert.NoError(t, err)
		assert.Equal(t, "message 4", again[0].Content, "expected stored message to be unchanged")
	})
}

func TestMemoryAccountStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryAccountStore()
	if err != nil {
		t.Fatalf("failed to create account store: %v", err)
	}

	acc, err := store.CreateAccount(ctx, CreateAccountParams{
		Username:     "testuser",
		EmailAddress: "Test@Example.com ",
		PasswordHash: "hash",
	})
	assert.NoError(t, err, "expected account to be created")
	assert.Contains(t, acc.Id, "user_", "expected prefixed account id")
	assert.Equal(t, "test@example.com", acc.EmailAddress, "expected normalized email")

	_, err = store.CreateAccount(ctx, CreateAccountParams{
		Username:     "other",
		EmailAddress: "test@example.com",
	})
	assert.ErrorIs(t, err, ErrAlreadyExists, "expected duplicate email to be rejected")

	byEmail, err := store.GetAccountByEmail(ctx, "TEST@example.com")
	assert.NoError(t, err)
	assert.Equal(t, acc, byEmail)

	byId, err := store.GetAccountById(ctx, acc.Id)
	assert.NoError(t, err)
	assert.Equal(t, acc, byId)

	_, err = store.GetAccountById(ctx, "user_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetAccountByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_messagesKey(t *testing.T) {
	assert.Equal(t, "synapse:chat:chat_1:messages", messagesKey("chat_1"))
}

func Test_messageRow_toMessage(t *testing.T) {
	now := time.Now()
	row := messageRow{
		Id:        "msg_1",
		ChatId:    "chat_1",
		SenderId:  "user_1",
		Content:   "hi",
		Type:      "text",
		Status:    "sent",
		CreatedAt: now,
	}

	msg := row.toMessage()
	assert.Equal(t, types.MessageTypeText, msg.Type)
	assert.Equal(t, types.MessageStatusSent, msg.Status)
	assert.Equal(t, now.UTC(), msg.Timestamp)
	assert.Equal(t, "chat_1", msg.ChatId)
}
