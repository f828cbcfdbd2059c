package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thriftx/realtime-messages/metrics"
)

const (
	latestLimit    = 100
	maxLatestLimit = 500
)

var (
	ErrThreadNotCached = fmt.Errorf("thread not found in cache")
	ErrThreadChanged   = fmt.Errorf("thread changed since version was read")
	ErrUserNotFound    = fmt.Errorf("user not found")
)

// A DB provides a storage layer that persists messages and users.
type DB interface {
	ListUserMessages(ctx context.Context, userID string) ([]Message, error)
	ListLatestMessages(ctx context.Context, userID string, limit int) ([]Message, error)
	ListThread(ctx context.Context, userID, otherUserID, adID string) ([]Message, error)
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	Usernames(ctx context.Context, userIDs ...string) (map[string]string, error)
}

// A Cache provides a storage layer that caches conversation threads.
//
// Each thread has a version that InvalidateThread increments. SetThread
// takes the version read before loading msgs and returns ErrThreadChanged
// without writing if the thread was invalidated since.
type Cache interface {
	ListThread(ctx context.Context, userID, otherUserID, adID string) ([]Message, error)
	ThreadVersion(ctx context.Context, userID, otherUserID, adID string) (int64, error)
	SetThread(ctx context.Context, userID, otherUserID, adID string, version int64, msgs []Message) error
	InvalidateThread(ctx context.Context, userID, otherUserID, adID string) error
}

// API provides the REST endpoints for the application.
type API struct {
	Logger *slog.Logger
	DB     DB
	Cache  Cache

	once    sync.Once
	handler http.Handler
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/realtime-messages/{userID}", a.listUserMessages)
	mux.HandleFunc("GET /api/realtime-messages/latest/{userID}", a.listLatestMessages)
	mux.HandleFunc("GET /api/realtime-messages/{userID}/{otherUserID}/{adID}", a.listThread)
	mux.HandleFunc("POST /api/realtime-messages", a.createMessage)
	mux.HandleFunc("GET /api/users/{username}", a.getUser)

	a.handler = metrics.Middleware(mux)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path, "request_id", r.Header.Get("X-Request-ID"))
	a.handler.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

type message struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderid"`
	ReceiverID  string `json:"receiverid"`
	AdID        string `json:"adid"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	OtherUserID string `json:"otherUserId,omitempty"`
	Username    string `json:"username,omitempty"`
}

func toMessage(msg Message) message {
	return message{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		AdID:       msg.AdID,
		Content:    msg.Content,
		Timestamp:  msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toMessages(msgs []Message) []message {
	out := make([]message, len(msgs))
	for i, msg := range msgs {
		out[i] = toMessage(msg)
	}
	return out
}

func (a *API) listUserMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	msgs, err := a.DB.ListUserMessages(r.Context(), userID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
		return
	}
	a.respond(w, http.StatusOK, toMessages(msgs))
}

func (a *API) listLatestMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = latestLimit
	}
	limit = min(limit, maxLatestLimit)

	msgs, err := a.DB.ListLatestMessages(r.Context(), userID, limit)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
		return
	}

	others := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		others = append(others, otherUser(userID, msg))
	}
	names, err := a.DB.Usernames(r.Context(), others...)
	if err != nil {
		a.Logger.Error("Could not look up usernames", "error", err.Error())
	}

	out := make([]message, len(msgs))
	for i, msg := range msgs {
		out[i] = toMessage(msg)
		out[i].OtherUserID = others[i]
		out[i].Username = names[others[i]]
		if out[i].Username == "" {
			out[i].Username = "User " + others[i]
		}
	}
	a.respond(w, http.StatusOK, out)
}

func otherUser(userID string, msg Message) string {
	if msg.SenderID == userID {
		return msg.ReceiverID
	}
	return msg.SenderID
}

func (a *API) listThread(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	otherUserID := r.PathValue("otherUserID")
	adID := r.PathValue("adID")

	msgs, err := a.Cache.ListThread(r.Context(), userID, otherUserID, adID)
	if err == nil {
		metrics.ThreadCache.WithLabelValues("hit").Inc()
		a.respond(w, http.StatusOK, toMessages(msgs))
		return
	}
	if !errors.Is(err, ErrThreadNotCached) {
		a.Logger.Error("Error reading thread from cache, trying database", "error", err.Error())
	}
	metrics.ThreadCache.WithLabelValues("miss").Inc()

	// The version must be read before the database so a write landing in
	// between is detected by SetThread.
	version, verr := a.Cache.ThreadVersion(r.Context(), userID, otherUserID, adID)
	if verr != nil {
		a.Logger.Error("Could not read thread version", "error", verr.Error())
	}

	msgs, err = a.DB.ListThread(r.Context(), userID, otherUserID, adID)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
		return
	}
	if len(msgs) > 0 && verr == nil {
		err := a.Cache.SetThread(r.Context(), userID, otherUserID, adID, version, msgs)
		switch {
		case errors.Is(err, ErrThreadChanged):
			a.Logger.Debug("Thread changed while loading, not caching", "thread", ThreadKey(userID, otherUserID, adID))
		case err != nil:
			a.Logger.Error("Could not cache thread", "error", err.Error())
		}
	}
	a.respond(w, http.StatusOK, toMessages(msgs))
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		SenderID   string `json:"senderid"`
		ReceiverID string `json:"receiverid"`
		AdID       string `json:"adid"`
		Content    string `json:"content"`
	}

	var body request
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()

	body.SenderID = strings.TrimSpace(body.SenderID)
	body.ReceiverID = strings.TrimSpace(body.ReceiverID)
	body.AdID = strings.TrimSpace(body.AdID)
	if body.SenderID == "" || body.ReceiverID == "" || body.AdID == "" || strings.TrimSpace(body.Content) == "" {
		a.respondError(w, http.StatusBadRequest, errors.New("missing field"), "senderid, receiverid, adid and content are required")
		return
	}

	msg, err := a.DB.InsertMessage(r.Context(), Message{
		SenderID:   body.SenderID,
		ReceiverID: body.ReceiverID,
		AdID:       body.AdID,
		Content:    body.Content,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not insert message")
		return
	}
	metrics.MessagesPosted.Inc()

	if err := a.Cache.InvalidateThread(r.Context(), msg.SenderID, msg.ReceiverID, msg.AdID); err != nil {
		a.Logger.Error("Could not invalidate cached thread", "error", err.Error())
	}

	a.respond(w, http.StatusCreated, toMessage(msg))
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	type response struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}

	u, err := a.DB.UserByUsername(r.Context(), r.PathValue("username"))
	if errors.Is(err, ErrUserNotFound) {
		a.respondError(w, http.StatusNotFound, err, "User not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not load user")
		return
	}
	a.respond(w, http.StatusOK, response{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
	})
}
