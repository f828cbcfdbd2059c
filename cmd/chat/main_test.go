package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/thriftx/realtime-messages/session"
)

type fakeServer struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/{username}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("username") != "ana" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"User not found"}`))
			return
		}
		w.Write([]byte(`{"id":"42","username":"ana","email":"ana@example.com"}`))
	})
	mux.HandleFunc("GET /api/realtime-messages/latest/{userID}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"3","senderid":"7","receiverid":"42","adid":"9","content":"data:image/png;base64,AAAA","timestamp":"2024-01-03T00:00:00Z","otherUserId":"7","username":"bob"},
			{"id":"2","senderid":"42","receiverid":"5","adid":"1","content":"hi","timestamp":"2024-01-02T00:00:00Z","otherUserId":"5"},
			{"id":"1","senderid":"7","receiverid":"42","adid":"9","content":"older","timestamp":"2024-01-01T00:00:00Z","otherUserId":"7","username":"bob"}
		]`))
	})
	mux.HandleFunc("GET /api/realtime-messages/{userID}/{otherUserID}/{adID}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("POST /api/realtime-messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.sent = append(f.sent, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"100","senderid":"42","receiverid":"7","adid":"9","content":"hello","timestamp":"2024-01-04T00:00:00Z"}`))
	})
	return mux
}

func (f *fakeServer) messages() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func setup(t *testing.T) (*fakeServer, func(stdin string, args ...string) (string, error)) {
	t.Helper()
	for _, k := range []string{"ENV", "MESSAGES_URL", "POLL_INTERVAL", "SESSION_FILE"} {
		t.Setenv(k, "")
	}
	t.Setenv("ENV", "test")

	f := &fakeServer{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	sessionFile := filepath.Join(t.TempDir(), "session.json")
	return f, func(stdin string, args ...string) (string, error) {
		var stdout, stderr bytes.Buffer
		args = append([]string{"-url", srv.URL, "-session-file", sessionFile}, args...)
		err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
		return stdout.String(), err
	}
}

func TestRun_LoginAndWhoami(t *testing.T) {
	_, chat := setup(t)

	if _, err := chat("", "whoami"); !errors.Is(err, session.ErrNoUser) {
		t.Fatalf("Got error %v, want ErrNoUser", err)
	}
	if _, err := chat("", "login", "nobody"); err == nil {
		t.Fatal("Expected login of an unknown user to fail")
	}

	out, err := chat("", "login", "ana")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Signed in as ana (42)\n" {
		t.Errorf("Unexpected login output %q", out)
	}

	out, err = chat("", "whoami")
	if err != nil {
		t.Fatal(err)
	}
	if out != "ana (42)\n" {
		t.Errorf("Unexpected whoami output %q", out)
	}
}

func TestRun_Conversations(t *testing.T) {
	_, chat := setup(t)
	if _, err := chat("", "conversations"); !errors.Is(err, session.ErrNoUser) {
		t.Fatalf("Got error %v, want ErrNoUser", err)
	}
	if _, err := chat("", "login", "ana"); err != nil {
		t.Fatal(err)
	}

	out, err := chat("", "conversations")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("Got %d conversations, want 2:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "7\tbob\tlisting 9\t") || !strings.HasSuffix(lines[0], "\t[image]") {
		t.Errorf("Unexpected first conversation %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "5\tUser 5\tlisting 1\t") || !strings.HasSuffix(lines[1], "\thi") {
		t.Errorf("Unexpected second conversation %q", lines[1])
	}
}

func TestRun_Send(t *testing.T) {
	f, chat := setup(t)

	if _, err := chat("", "send", "7", "9", "hello"); !errors.Is(err, session.ErrNoUser) {
		t.Fatalf("Got error %v, want ErrNoUser", err)
	}
	if _, err := chat("", "login", "ana"); err != nil {
		t.Fatal(err)
	}
	out, err := chat("", "send", "7", "9", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Sent 100\n" {
		t.Errorf("Unexpected send output %q", out)
	}

	want := []map[string]string{{"senderid": "42", "receiverid": "7", "adid": "9", "content": "hello"}}
	if diff := cmp.Diff(f.messages(), want); diff != "" {
		t.Errorf("Diff (-got +want)\n%s", diff)
	}
}

func TestRun_OpenSendsInputLines(t *testing.T) {
	f, chat := setup(t)
	if _, err := chat("", "login", "ana"); err != nil {
		t.Fatal(err)
	}

	if _, err := chat("hello\n   \n", "open", "7", "9"); err != nil {
		t.Fatal(err)
	}

	// The blank line is not sent.
	want := []map[string]string{{"senderid": "42", "receiverid": "7", "adid": "9", "content": "hello"}}
	if diff := cmp.Diff(f.messages(), want); diff != "" {
		t.Errorf("Diff (-got +want)\n%s", diff)
	}
}

func TestRun_Usage(t *testing.T) {
	_, chat := setup(t)
	if _, err := chat(""); err == nil {
		t.Error("Expected an error without a command")
	}
	if _, err := chat("", "open", "7"); err == nil {
		t.Error("Expected an error with missing arguments")
	}
}

type endlessInput struct{}

func (endlessInput) Read(p []byte) (int, error) {
	return copy(p, "hello\n"), nil
}

func TestReadLines_StopsWhenDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lines := readLines(ctx, endlessInput{})
	if got := <-lines; got != "hello" {
		t.Fatalf("Got line %q, want hello", got)
	}
	cancel()

	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("Reader kept running after the context was done")
		}
	}
}
