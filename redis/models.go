package redis

import (
	"time"

	"github.com/thriftx/realtime-messages/api"
)

// A message is the JSON member stored in a thread's sorted set.
type message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	AdID       string    `json:"ad_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
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

func toRedisMessage(m api.Message) message {
	return message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		AdID:       m.AdID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}
