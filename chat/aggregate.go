package chat

import (
	"sort"
)

// A Conversation is the view of all messages between the current user and one
// counterparty about one listing, represented by its most recent message.
type Conversation struct {
	CounterpartyID string
	ListingID      string
	Latest         Message
}

// Key identifies the conversation as "counterparty:listing".
func (c Conversation) Key() string {
	return conversationKey(c.CounterpartyID, c.ListingID)
}

func conversationKey(counterpartyID, listingID string) string {
	return counterpartyID + ":" + listingID
}

// Counterparty returns the participant of msg that is not userID.
func Counterparty(userID string, msg Message) string {
	if msg.SenderID == userID {
		return msg.ReceiverID
	}
	return msg.SenderID
}

// Aggregate groups msgs into one conversation per counterparty and listing,
// keeping the newest message of each group. Messages without a sender,
// receiver or listing are not grouped and are returned as dropped.
//
// Conversations come back in the order their key was first seen. On equal
// timestamps the earlier message in msgs is kept.
func Aggregate(currentUserID string, msgs []Message) (convs []Conversation, dropped []Message) {
	index := make(map[string]int)
	for _, msg := range msgs {
		if msg.SenderID == "" || msg.ReceiverID == "" || msg.ListingID == "" {
			dropped = append(dropped, msg)
			continue
		}
		counterparty := Counterparty(currentUserID, msg)
		key := conversationKey(counterparty, msg.ListingID)

		i, ok := index[key]
		if !ok {
			index[key] = len(convs)
			convs = append(convs, Conversation{
				CounterpartyID: counterparty,
				ListingID:      msg.ListingID,
				Latest:         msg,
			})
			continue
		}
		if msg.Timestamp.After(convs[i].Latest.Timestamp) {
			convs[i].Latest = msg
		}
	}
	return convs, dropped
}

// SortByRecent orders convs newest first. Conversations with equal
// timestamps keep their relative order.
func SortByRecent(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].Latest.Timestamp.After(convs[j].Latest.Timestamp)
	})
}
