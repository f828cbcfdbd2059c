package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/thriftx/realtime-messages/api"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Close closes the database connection.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// Migrate creates the tables and indexes if they do not exist.
func (pg *Postgres) Migrate(ctx context.Context) error {
	for _, model := range []any{(*message)(nil), (*user)(nil)} {
		if _, err := pg.bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	indexes := []struct {
		name    string
		columns []string
	}{
		{"realtime_messages_sender_idx", []string{"sender_id", "created_at"}},
		{"realtime_messages_receiver_idx", []string{"receiver_id", "created_at"}},
		{"realtime_messages_thread_idx", []string{"ad_id", "sender_id", "receiver_id"}},
	}
	for _, idx := range indexes {
		_, err := pg.bun.NewCreateIndex().
			Model((*message)(nil)).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// ListUserMessages returns every message sent or received by userID, oldest
// first.
func (pg *Postgres) ListUserMessages(ctx context.Context, userID string) ([]api.Message, error) {
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		Where("message.sender_id = ?", userID).
		WhereOr("message.receiver_id = ?", userID).
		Order("message.created_at ASC", "message.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return convertToMessages(msgs), nil
}

// ListLatestMessages returns up to limit messages sent or received by userID,
// newest first.
func (pg *Postgres) ListLatestMessages(ctx context.Context, userID string, limit int) ([]api.Message, error) {
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		Where("message.sender_id = ?", userID).
		WhereOr("message.receiver_id = ?", userID).
		Order("message.created_at DESC", "message.id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return convertToMessages(msgs), nil
}

// ListThread returns the messages exchanged between the two users about adID
// in either direction, oldest first.
func (pg *Postgres) ListThread(ctx context.Context, userID, otherUserID, adID string) ([]api.Message, error) {
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		Where("message.ad_id = ?", adID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("message.sender_id = ? AND message.receiver_id = ?", userID, otherUserID).
				WhereOr("message.sender_id = ? AND message.receiver_id = ?", otherUserID, userID)
		}).
		Order("message.created_at ASC", "message.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return convertToMessages(msgs), nil
}

// InsertMessage inserts a message into the database. The returned message
// holds auto generated fields, such as the message id.
func (pg *Postgres) InsertMessage(ctx context.Context, msg api.Message) (api.Message, error) {
	m := &message{
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		AdID:       msg.AdID,
		Content:    msg.Content,
	}
	if _, err := pg.bun.NewInsert().Model(m).Returning("*").Exec(ctx); err != nil {
		return api.Message{}, fmt.Errorf("insert: %w", err)
	}
	return m.APIMessage(), nil
}

// UserByUsername returns the user called username, or api.ErrUserNotFound.
func (pg *Postgres) UserByUsername(ctx context.Context, username string) (api.User, error) {
	var u user
	err := pg.bun.NewSelect().
		Model(&u).
		Where("u.username = ?", username).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return api.User{}, api.ErrUserNotFound
	}
	if err != nil {
		return api.User{}, fmt.Errorf("scan: %w", err)
	}
	return u.APIUser(), nil
}

// InsertUser inserts a user into the database and returns it with its
// generated id.
func (pg *Postgres) InsertUser(ctx context.Context, u api.User) (api.User, error) {
	m := &user{
		Username: u.Username,
		Email:    u.Email,
	}
	if _, err := pg.bun.NewInsert().Model(m).Returning("*").Exec(ctx); err != nil {
		return api.User{}, fmt.Errorf("insert: %w", err)
	}
	return m.APIUser(), nil
}

// Usernames maps the given user ids to usernames. Unknown ids are left out.
func (pg *Postgres) Usernames(ctx context.Context, userIDs ...string) (map[string]string, error) {
	out := make(map[string]string)
	if len(userIDs) == 0 {
		return out, nil
	}
	var users []user
	err := pg.bun.NewSelect().
		Model(&users).
		Column("u.id", "u.username").
		Where("u.id::text IN (?)", bun.In(userIDs)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u.Username
	}
	return out, nil
}

func convertToMessages(msgs []message) []api.Message {
	out := make([]api.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.APIMessage()
	}
	return out
}
