package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMessage_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Message
	}{
		{
			name: "Timestamp",
			body: `{"id":"1","senderid":"42","receiverid":"7","adid":"9","content":"hi","timestamp":"2024-01-02T03:04:05.5Z"}`,
			want: Message{
				ID: "1", SenderID: "42", ReceiverID: "7", ListingID: "9", Content: "hi",
				Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 500000000, time.UTC),
			},
		},
		{
			name: "CreatedAtFallback",
			body: `{"id":"1","senderid":"42","receiverid":"7","adid":"9","content":"hi","createdAt":"2024-01-02T03:04:05Z"}`,
			want: Message{
				ID: "1", SenderID: "42", ReceiverID: "7", ListingID: "9", Content: "hi",
				Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
		{
			name: "NumericIDsAndMillis",
			body: `{"id":12,"senderid":42,"receiverid":7,"adid":9,"content":"hi","timestamp":1704164645000}`,
			want: Message{
				ID: "12", SenderID: "42", ReceiverID: "7", ListingID: "9", Content: "hi",
				Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			},
		},
		{
			name: "NoTime",
			body: `{"id":"1","senderid":"42","receiverid":"7","adid":"9","content":"hi"}`,
			want: Message{
				ID: "1", SenderID: "42", ReceiverID: "7", ListingID: "9", Content: "hi",
				Timestamp: epoch,
			},
		},
		{
			name: "UnparseableTime",
			body: `{"id":"1","senderid":"42","receiverid":"7","adid":"9","content":"hi","timestamp":"yesterday"}`,
			want: Message{
				ID: "1", SenderID: "42", ReceiverID: "7", ListingID: "9", Content: "hi",
				Timestamp: epoch,
			},
		},
		{
			name: "LatestFeed",
			body: `{"id":"1","senderid":"42","receiverid":"7","adid":"9","content":"hi","timestamp":"2024-01-02T03:04:05Z","otherUserId":"7","username":"bo"}`,
			want: Message{
				ID: "1", SenderID: "42", ReceiverID: "7", ListingID: "9", Content: "hi",
				Timestamp:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
				OtherUserID: "7",
				Username:    "bo",
			},
		},
		{
			name: "NullSender",
			body: `{"id":"1","senderid":null,"receiverid":"7","adid":"9","content":"hi"}`,
			want: Message{
				ID: "1", ReceiverID: "7", ListingID: "9", Content: "hi",
				Timestamp: epoch,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Message
			if err := json.Unmarshal([]byte(tt.body), &got); err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Diff (-got +want)\n%s", cmp.Diff(got, tt.want))
			}
		})
	}
}

func TestMessage_IsImage(t *testing.T) {
	if !(Message{Content: "data:image/png;base64,iVBORw0KGgo="}).IsImage() {
		t.Error("Data URI not detected as image")
	}
	if (Message{Content: "is the bike still available?"}).IsImage() {
		t.Error("Text detected as image")
	}
}
