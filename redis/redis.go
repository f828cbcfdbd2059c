package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thriftx/realtime-messages/api"
	"github.com/thriftx/realtime-messages/session"
)

const (
	threadPrefix  = "threads"
	sessionPrefix = "session"

	threadTTL = 30 * time.Second
	// Must outlive any database read done between ThreadVersion and
	// SetThread.
	versionTTL = time.Hour
)

// Redis provides caching in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// Close closes the connection.
func (r *Redis) Close() error {
	return r.cli.Close()
}

func threadKey(userID, otherUserID, adID string) string {
	return fmt.Sprintf("%s:%s", threadPrefix, api.ThreadKey(userID, otherUserID, adID))
}

func versionKey(userID, otherUserID, adID string) string {
	return threadKey(userID, otherUserID, adID) + ":version"
}

// ListThread returns the cached messages of a thread, oldest first. It
// returns api.ErrThreadNotCached when the thread is not in Redis.
func (r *Redis) ListThread(ctx context.Context, userID, otherUserID, adID string) ([]api.Message, error) {
	vals, err := r.cli.ZRange(ctx, threadKey(userID, otherUserID, adID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	if len(vals) == 0 {
		return nil, api.ErrThreadNotCached
	}

	out := make([]api.Message, len(vals))
	for i, val := range vals {
		var msg message
		if err := json.Unmarshal([]byte(val), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out[i] = msg.APIMessage()
	}
	return out, nil
}

// ThreadVersion returns the number of times the thread was invalidated, or 0
// if it never was.
func (r *Redis) ThreadVersion(ctx context.Context, userID, otherUserID, adID string) (int64, error) {
	v, err := r.cli.Get(ctx, versionKey(userID, otherUserID, adID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return v, nil
}

// SetThread replaces the cached thread with msgs if the thread is still at
// version. Otherwise it writes nothing and returns api.ErrThreadChanged.
func (r *Redis) SetThread(ctx context.Context, userID, otherUserID, adID string, version int64, msgs []api.Message) error {
	members := make([]redis.Z, len(msgs))
	for i, msg := range msgs {
		b, err := json.Marshal(toRedisMessage(msg))
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		members[i] = redis.Z{
			Score:  float64(msg.CreatedAt.UnixNano()),
			Member: string(b),
		}
	}

	key := threadKey(userID, otherUserID, adID)
	vkey := versionKey(userID, otherUserID, adID)
	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return api.ErrThreadChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(members) > 0 {
				pipe.ZAdd(ctx, key, members...)
				pipe.Expire(ctx, key, threadTTL)
			}
			return nil
		})
		return err
	}, vkey)
	if errors.Is(err, api.ErrThreadChanged) || errors.Is(err, redis.TxFailedErr) {
		return api.ErrThreadChanged
	}
	if err != nil {
		return fmt.Errorf("redis set thread: %w", err)
	}
	return nil
}

// InvalidateThread removes a thread from the cache and bumps its version so
// reads that started earlier cannot cache their result.
func (r *Redis) InvalidateThread(ctx context.Context, userID, otherUserID, adID string) error {
	vkey := versionKey(userID, otherUserID, adID)
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, versionTTL)
		pipe.Del(ctx, threadKey(userID, otherUserID, adID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate thread: %w", err)
	}
	return nil
}

// Sessions returns a session store keeping its items under namespace, for
// example a device id.
func (r *Redis) Sessions(namespace string) *Sessions {
	return &Sessions{cli: r.cli, namespace: namespace}
}

// Sessions is a session.Store backed by Redis strings.
type Sessions struct {
	cli       *redis.Client
	namespace string
}

func (s *Sessions) key(key string) string {
	return fmt.Sprintf("%s:%s:%s", sessionPrefix, s.namespace, key)
}

// GetItem returns the value stored under key, or session.ErrNotFound.
func (s *Sessions) GetItem(ctx context.Context, key string) (string, error) {
	v, err := s.cli.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// SetItem stores value under key without expiry.
func (s *Sessions) SetItem(ctx context.Context, key, value string) error {
	if err := s.cli.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

var (
	_ api.Cache     = (*Redis)(nil)
	_ session.Store = (*Sessions)(nil)
)
