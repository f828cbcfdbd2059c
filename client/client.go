// Package client calls the realtime messages API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/thriftx/realtime-messages/chat"
)

// DefaultBaseURL is used when Client.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8080"

// An Error is a non-2xx response from the API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("messages api: status %d", e.Status)
	}
	return fmt.Sprintf("messages api: status %d: %s", e.Status, e.Message)
}

// A User is an account known to the API.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Client is a realtime messages API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New returns a client for baseURL. Requests carry no timeout of their own,
// they end when the caller's context does.
func New(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Logger:     logger,
	}
}

// UserMessages returns every message sent or received by userID.
func (c *Client) UserMessages(ctx context.Context, userID string) ([]chat.Message, error) {
	var msgs []chat.Message
	err := c.do(ctx, http.MethodGet, "/api/realtime-messages/"+url.PathEscape(userID), nil, &msgs)
	return msgs, err
}

// LatestMessages returns the newest messages of userID first, each carrying
// the counterparty id and username.
func (c *Client) LatestMessages(ctx context.Context, userID string, limit int) ([]chat.Message, error) {
	path := "/api/realtime-messages/latest/" + url.PathEscape(userID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var msgs []chat.Message
	err := c.do(ctx, http.MethodGet, path, nil, &msgs)
	return msgs, err
}

// Thread returns the messages between userID and counterpartyID about
// listingID, oldest first.
func (c *Client) Thread(ctx context.Context, userID, counterpartyID, listingID string) ([]chat.Message, error) {
	path := fmt.Sprintf("/api/realtime-messages/%s/%s/%s",
		url.PathEscape(userID), url.PathEscape(counterpartyID), url.PathEscape(listingID))
	var msgs []chat.Message
	err := c.do(ctx, http.MethodGet, path, nil, &msgs)
	return msgs, err
}

// SendMessage creates a message and returns it as stored by the server.
func (c *Client) SendMessage(ctx context.Context, out chat.Outgoing) (chat.Message, error) {
	var msg chat.Message
	err := c.do(ctx, http.MethodPost, "/api/realtime-messages", out, &msg)
	return msg, err
}

// User looks up an account by username.
func (c *Client) User(ctx context.Context, username string) (User, error) {
	var u User
	err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(username), nil, &u)
	return u, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, body)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if c.Logger != nil {
		c.Logger.Debug("Request done", "method", method, "path", path, "status", resp.StatusCode, "request_id", requestID)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &Error{Status: resp.StatusCode, Message: errResp.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ chat.API = (*Client)(nil)
