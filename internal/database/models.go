package database

import "time"

type Account struct {
	Id           string
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type messageRow struct {
	Id        string
	ChatId    string
	SenderId  string
	Content   string
	Type      string
	Status    string
	ReplyToId string
	CreatedAt time.Time
}
