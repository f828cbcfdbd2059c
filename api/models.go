package api

import (
	"fmt"
	"time"
)

// A Message represents a persisted message between two users about a listing.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	AdID       string
	Content    string
	CreatedAt  time.Time
}

// A User represents a registered account.
type User struct {
	ID       string
	Username string
	Email    string
}

// ThreadKey identifies the messages exchanged by two users about one ad,
// regardless of who sent them.
func ThreadKey(userID, otherUserID, adID string) string {
	if otherUserID < userID {
		userID, otherUserID = otherUserID, userID
	}
	return fmt.Sprintf("%s:%s:%s", userID, otherUserID, adID)
}
