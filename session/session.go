// Package session persists the identity of the signed-in user in a string
// key-value store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Keys used in the store.
const (
	KeyUserID   = "userID"
	KeyUsername = "username"
)

var (
	// ErrNotFound is returned by a Store when the key holds no value.
	ErrNotFound = errors.New("session: key not found")
	// ErrNoUser is returned by Resolve when no user is signed in.
	ErrNoUser = errors.New("session: no current user")
)

// A Store is a string key-value store that survives restarts.
type Store interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
}

// A Session identifies the current user.
type Session struct {
	UserID   string
	Username string
}

// Resolve loads the current session from store. It returns ErrNoUser when no
// user id is stored.
func Resolve(ctx context.Context, store Store) (Session, error) {
	if store == nil {
		return Session{}, ErrNoUser
	}
	id, err := store.GetItem(ctx, KeyUserID)
	if errors.Is(err, ErrNotFound) || (err == nil && strings.TrimSpace(id) == "") {
		return Session{}, ErrNoUser
	}
	if err != nil {
		return Session{}, fmt.Errorf("get user id: %w", err)
	}
	name, err := store.GetItem(ctx, KeyUsername)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Session{}, fmt.Errorf("get username: %w", err)
	}
	return Session{UserID: id, Username: name}, nil
}

// Save writes s to store.
func Save(ctx context.Context, store Store, s Session) error {
	if err := store.SetItem(ctx, KeyUserID, s.UserID); err != nil {
		return fmt.Errorf("set user id: %w", err)
	}
	if err := store.SetItem(ctx, KeyUsername, s.Username); err != nil {
		return fmt.Errorf("set username: %w", err)
	}
	return nil
}

// FileStore keeps items in a JSON object on disk.
type FileStore struct {
	Path string

	mu sync.Mutex
}

// DefaultPath returns ~/.thriftx/session.json.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".thriftx", "session.json")
}

// GetItem returns the value stored under key.
func (f *FileStore) GetItem(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetItem stores value under key, creating the file if needed.
func (f *FileStore) SetItem(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		return err
	}
	items[key] = value

	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.Path, data, 0600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (f *FileStore) load() (map[string]string, error) {
	items := make(map[string]string)
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return items, nil
}
