package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/thriftx/realtime-messages/api"
)

// A message represents a message in the database.
type message struct {
	bun.BaseModel `bun:"table:realtime_messages,alias:message"`

	ID         string    `bun:",pk,type:uuid,default:gen_random_uuid()"`
	SenderID   string    `bun:"sender_id,notnull"`
	ReceiverID string    `bun:"receiver_id,notnull"`
	AdID       string    `bun:"ad_id,notnull"`
	Content    string    `bun:"content,notnull"`
	CreatedAt  time.Time `bun:",nullzero,notnull,default:now()"`
}

func (m message) APIMessage() api.Message {
	return api.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		AdID:       m.AdID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

// A user represents an account in the database.
type user struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID       string `bun:",pk,type:uuid,default:gen_random_uuid()"`
	Username string `bun:"username,notnull,unique"`
	Email    string `bun:"email"`
}

func (u user) APIUser() api.User {
	return api.User{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
	}
}
