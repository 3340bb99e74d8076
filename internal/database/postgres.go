package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/npezzotti/synapse-chat/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	insertMessageQuery = "INSERT INTO messages (id, chat_id, sender_id, content, type, status, reply_to_id, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)"
	countMessagesQuery = "SELECT count(*) FROM messages WHERE chat_id = $1"
	listMessagesQuery  = "SELECT id, chat_id, sender_id, content, type, status, reply_to_id, created_at FROM messages " +
		"WHERE chat_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3"
)

type PgMessageStore struct {
	conn *sql.DB
}

// NewPgMessageStore opens a postgres connection and brings the schema up to
// date. The caller must import the lib/pq driver.
func NewPgMessageStore(dsn string) (*PgMessageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PgMessageStore{conn: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	defer src.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (db *PgMessageStore) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgMessageStore) Append(ctx context.Context, chatId string, msg types.Message) error {
	_, err := db.conn.ExecContext(ctx, insertMessageQuery,
		msg.Id,
		chatId,
		msg.SenderId,
		msg.Content,
		string(msg.Type),
		string(msg.Status),
		msg.ReplyToId,
		msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

func (db *PgMessageStore) List(ctx context.Context, chatId string, page, limit int) ([]types.Message, int, error) {
	page, limit = NormalizePage(page, limit)

	var total int
	if err := db.conn.QueryRowContext(ctx, countMessagesQuery, chatId).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, listMessagesQuery, chatId, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []types.Message
	for rows.Next() {
		var row messageRow
		if err := rows.Scan(
			&row.Id,
			&row.ChatId,
			&row.SenderId,
			&row.Content,
			&row.Type,
			&row.Status,
			&row.ReplyToId,
			&row.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan row: %w", err)
		}

		newestFirst = append(newestFirst, row.toMessage())
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	messages := make([]types.Message, len(newestFirst))
	for i, msg := range newestFirst {
		messages[len(newestFirst)-1-i] = msg
	}

	return messages, total, nil
}

func (db *PgMessageStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (r messageRow) toMessage() types.Message {
	return types.Message{
		Id:        r.Id,
		ChatId:    r.ChatId,
		SenderId:  r.SenderId,
		Content:   r.Content,
		Type:      types.MessageType(r.Type),
		Status:    types.MessageStatus(r.Status),
		ReplyToId: r.ReplyToId,
		Timestamp: r.CreatedAt.UTC(),
	}
}
