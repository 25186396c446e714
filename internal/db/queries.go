package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/avdwerff/deskchat/internal/models"
)

// messageRecord is the message table row. Record ids and CBOR datetimes
// stay internal to this package; the wire model uses plain strings.
type messageRecord struct {
	ID          surrealmodels.RecordID `json:"id,omitempty"`
	Owner       string                 `json:"owner"`
	Sender      string                 `json:"sender"`
	Body        string                 `json:"body"`
	Created     time.Time              `json:"created"`
	ReadByUser  bool                   `json:"read_by_user"`
	ReadByAdmin bool                   `json:"read_by_admin"`
}

// threadRecord is the thread aggregate row.
type threadRecord struct {
	ID           surrealmodels.RecordID `json:"id,omitempty"`
	Owner        string                 `json:"owner"`
	LastBody     string                 `json:"last_body"`
	LastSender   string                 `json:"last_sender"`
	LastActivity time.Time              `json:"last_activity"`
	UnreadAdmin  int                    `json:"unread_admin"`
	UnreadUser   int                    `json:"unread_user"`
	Closed       bool                   `json:"closed"`
}

func (r messageRecord) toModel() (models.Message, error) {
	sender, err := models.ParseSender(r.Sender)
	if err != nil {
		return models.Message{}, fmt.Errorf("message %s: %w", r.ID.String(), err)
	}
	return models.Message{
		ID:          r.ID.String(),
		Sender:      sender,
		Body:        r.Body,
		CreatedAt:   r.Created,
		ReadByUser:  r.ReadByUser,
		ReadByAdmin: r.ReadByAdmin,
		OwnerUserID: r.Owner,
	}, nil
}

func (r threadRecord) toModel() (models.Thread, error) {
	sender, err := models.ParseSender(r.LastSender)
	if err != nil {
		return models.Thread{}, fmt.Errorf("thread %s: %w", r.Owner, err)
	}
	return models.Thread{
		OwnerUserID:    r.Owner,
		LastMessage:    r.LastBody,
		LastSender:     sender,
		LastActivity:   r.LastActivity,
		UnreadForAdmin: r.UnreadAdmin,
		UnreadForUser:  r.UnreadUser,
	}, nil
}

// AppendMessage stores a message and updates the owner's thread aggregate
// in one transaction. The unread counter for the opposite side increments;
// the author's own side is counted as read.
func (c *Client) AppendMessage(ctx context.Context, owner string, sender models.Sender, body string) (models.Message, error) {
	unreadAdmin := 0
	unreadUser := 0
	switch sender {
	case models.SenderUser:
		unreadAdmin = 1
	case models.SenderAdmin, models.SenderSystem:
		unreadUser = 1
	}

	results, err := surrealdb.Query[[]messageRecord](ctx, c.db, `
		BEGIN TRANSACTION;
		LET $msg = (CREATE message SET
			owner = $owner,
			sender = $sender,
			body = $body,
			read_by_user = $sender != "admin" AND $sender != "system",
			read_by_admin = $sender != "user");
		UPSERT thread SET
			owner = $owner,
			last_body = $body,
			last_sender = $sender,
			last_activity = time::now(),
			unread_admin += $unread_admin,
			unread_user += $unread_user,
			closed = false
		WHERE owner = $owner;
		RETURN $msg;
		COMMIT TRANSACTION;
	`, map[string]any{
		"owner":        owner,
		"sender":       sender.String(),
		"body":         body,
		"unread_admin": unreadAdmin,
		"unread_user":  unreadUser,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.Message{}, fmt.Errorf("append message: no row returned")
	}
	return (*results)[0].Result[0].toModel()
}

// ListMessages returns a user's full thread in chronological order.
func (c *Client) ListMessages(ctx context.Context, owner string) ([]models.Message, error) {
	results, err := surrealdb.Query[[]messageRecord](ctx, c.db, `
		SELECT * FROM message WHERE owner = $owner ORDER BY created ASC
	`, map[string]any{"owner": owner})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Message{}, nil
	}
	rows := (*results)[0].Result
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ListThreads returns all thread aggregates, most recent activity first.
func (c *Client) ListThreads(ctx context.Context) ([]models.Thread, error) {
	results, err := surrealdb.Query[[]threadRecord](ctx, c.db, `
		SELECT * FROM thread ORDER BY last_activity DESC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Thread{}, nil
	}
	rows := (*results)[0].Result
	threads := make([]models.Thread, 0, len(rows))
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, nil
}

// MarkReadByAdmin marks every message in a thread as read by the operator
// side and clears the aggregate counter.
func (c *Client) MarkReadByAdmin(ctx context.Context, owner string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE message SET read_by_admin = true WHERE owner = $owner AND !read_by_admin;
		UPDATE thread SET unread_admin = 0 WHERE owner = $owner;
	`, map[string]any{"owner": owner})
	if err != nil {
		return fmt.Errorf("mark read by admin: %w", wrapQueryError(err))
	}
	return nil
}

// MarkReadByUser marks every message in a thread as read by its owner.
func (c *Client) MarkReadByUser(ctx context.Context, owner string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE message SET read_by_user = true WHERE owner = $owner AND !read_by_user;
		UPDATE thread SET unread_user = 0 WHERE owner = $owner;
	`, map[string]any{"owner": owner})
	if err != nil {
		return fmt.Errorf("mark read by user: %w", wrapQueryError(err))
	}
	return nil
}

// CloseThread flags a thread closed. History stays; the next message write
// reopens it.
func (c *Client) CloseThread(ctx context.Context, owner string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE thread SET closed = true WHERE owner = $owner
	`, map[string]any{"owner": owner})
	if err != nil {
		return fmt.Errorf("close thread: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteThread purges a thread: every message and the aggregate row.
func (c *Client) DeleteThread(ctx context.Context, owner string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		DELETE message WHERE owner = $owner;
		DELETE thread WHERE owner = $owner;
		COMMIT TRANSACTION;
	`, map[string]any{"owner": owner})
	if err != nil {
		return fmt.Errorf("delete thread: %w", wrapQueryError(err))
	}
	return nil
}
