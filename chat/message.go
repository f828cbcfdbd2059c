// Package chat groups a user's message feed into conversations and keeps an
// open conversation up to date by polling the message API.
package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// imagePrefix marks content carrying a data-URI encoded image.
const imagePrefix = "data:image/"

// epoch is the timestamp given to messages without a usable time so they sort
// as the oldest.
var epoch = time.Unix(0, 0).UTC()

// A Message is a single chat message as exchanged with the message API.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderid"`
	ReceiverID string    `json:"receiverid"`
	ListingID  string    `json:"adid"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`

	// Set on the latest feed only.
	OtherUserID string `json:"otherUserId,omitempty"`
	Username    string `json:"username,omitempty"`
}

// IsImage reports whether the content is an encoded image rather than text.
func (m Message) IsImage() bool {
	return strings.HasPrefix(m.Content, imagePrefix)
}

// Equal reports whether both messages carry the same fields.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.SenderID == o.SenderID &&
		m.ReceiverID == o.ReceiverID &&
		m.ListingID == o.ListingID &&
		m.Content == o.Content &&
		m.Timestamp.Equal(o.Timestamp) &&
		m.OtherUserID == o.OtherUserID &&
		m.Username == o.Username
}

// UnmarshalJSON accepts string or numeric ids, and takes the time from
// "timestamp" or, failing that, "createdAt". Missing or unparseable times
// decode as the Unix epoch.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID          json.RawMessage `json:"id"`
		SenderID    json.RawMessage `json:"senderid"`
		ReceiverID  json.RawMessage `json:"receiverid"`
		ListingID   json.RawMessage `json:"adid"`
		Content     string          `json:"content"`
		Timestamp   json.RawMessage `json:"timestamp"`
		CreatedAt   json.RawMessage `json:"createdAt"`
		OtherUserID json.RawMessage `json:"otherUserId"`
		Username    string          `json:"username"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ts, ok := parseTime(raw.Timestamp)
	if !ok {
		ts, ok = parseTime(raw.CreatedAt)
	}
	if !ok {
		ts = epoch
	}
	*m = Message{
		ID:          rawID(raw.ID),
		SenderID:    rawID(raw.SenderID),
		ReceiverID:  rawID(raw.ReceiverID),
		ListingID:   rawID(raw.ListingID),
		Content:     raw.Content,
		Timestamp:   ts,
		OtherUserID: rawID(raw.OtherUserID),
		Username:    raw.Username,
	}
	return nil
}

// rawID turns a JSON string or number into its string form.
func rawID(b json.RawMessage) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s
	}
	return string(b)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	time.RFC1123,
	time.RFC1123Z,
}

func parseTime(b json.RawMessage) (time.Time, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Numbers are milliseconds since the epoch.
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Outgoing is the payload for creating a message.
type Outgoing struct {
	SenderID   string `json:"senderid"`
	ReceiverID string `json:"receiverid"`
	ListingID  string `json:"adid"`
	Content    string `json:"content"`
}

func equalMessages(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
