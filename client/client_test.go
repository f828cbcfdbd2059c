package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/thriftx/realtime-messages/chat"
)

func TestClient_Reads(t *testing.T) {
	const body = `[{"id":"1","senderid":"42","receiverid":"7","adid":"9","content":"hi","timestamp":"2024-01-01T00:00:00Z"}]`
	want := []string{"1"}

	tests := []struct {
		name     string
		call     func(c *Client) ([]chat.Message, error)
		wantPath string
		wantRaw  string
	}{
		{
			name: "UserMessages",
			call: func(c *Client) ([]chat.Message, error) {
				return c.UserMessages(context.Background(), "42")
			},
			wantPath: "/api/realtime-messages/42",
		},
		{
			name: "LatestMessages",
			call: func(c *Client) ([]chat.Message, error) {
				return c.LatestMessages(context.Background(), "42", 20)
			},
			wantPath: "/api/realtime-messages/latest/42",
			wantRaw:  "limit=20",
		},
		{
			name: "Thread",
			call: func(c *Client) ([]chat.Message, error) {
				return c.Thread(context.Background(), "42", "7", "9")
			},
			wantPath: "/api/realtime-messages/42/7/9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("Got method %s, want GET", r.Method)
				}
				if r.URL.Path != tt.wantPath {
					t.Errorf("Got path %s, want %s", r.URL.Path, tt.wantPath)
				}
				if r.URL.RawQuery != tt.wantRaw {
					t.Errorf("Got query %q, want %q", r.URL.RawQuery, tt.wantRaw)
				}
				if r.Header.Get("X-Request-ID") == "" {
					t.Error("Missing X-Request-ID")
				}
				io.WriteString(w, body)
			}))
			defer srv.Close()

			c := New(srv.URL, slogt.New(t))
			msgs, err := tt.call(c)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, m := range msgs {
				got = append(got, m.ID)
			}
			if diff := cmp.Diff(got, want); diff != "" {
				t.Errorf("Diff (-got +want)\n%s", diff)
			}
		})
	}
}

func TestClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/realtime-messages" {
			t.Errorf("Got %s %s, want POST /api/realtime-messages", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Got Content-Type %q", ct)
		}
		var got map[string]string
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		want := map[string]string{"senderid": "42", "receiverid": "7", "adid": "9", "content": "hello"}
		if diff := cmp.Diff(got, want); diff != "" {
			t.Errorf("Body diff (-got +want)\n%s", diff)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"abc","senderid":"42","receiverid":"7","adid":"9","content":"hello","timestamp":"2024-01-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, slogt.New(t))
	got, err := c.SendMessage(context.Background(), chat.Outgoing{
		SenderID:   "42",
		ReceiverID: "7",
		ListingID:  "9",
		Content:    "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := chat.Message{
		ID: "abc", SenderID: "42", ReceiverID: "7", ListingID: "9", Content: "hello",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if !got.Equal(want) {
		t.Errorf("Diff (-got +want)\n%s", cmp.Diff(got, want))
	}
}

func TestClient_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"User not found"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, slogt.New(t))
	_, err := c.User(context.Background(), "nobody")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Got error %v, want *Error", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "User not found" {
		t.Errorf("Got %+v", apiErr)
	}
}

func TestClient_User(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/ana" {
			t.Errorf("Got path %s", r.URL.Path)
		}
		io.WriteString(w, `{"id":"42","username":"ana","email":"ana@example.com"}`)
	}))
	defer srv.Close()

	got, err := New(srv.URL, slogt.New(t)).User(context.Background(), "ana")
	if err != nil {
		t.Fatal(err)
	}
	want := User{ID: "42", Username: "ana", Email: "ana@example.com"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Diff (-got +want)\n%s", diff)
	}
}

func TestClient_DeadlineFromContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, slogt.New(t))
	if c.HTTPClient.Timeout != 0 {
		t.Errorf("Got client timeout %v, want none", c.HTTPClient.Timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Thread(ctx, "42", "7", "9")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Got error %v, want context.DeadlineExceeded", err)
	}
}
