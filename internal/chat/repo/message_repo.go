package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/chat/entity"
)

// ErrStorageUnavailable wraps storage failures on the message path; it is
// the one condition callers may treat as transient.
var ErrStorageUnavailable = errors.New("message storage unavailable")

// MessageRepo is the append-only persistence for chat messages.
type MessageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) *MessageRepo { return &MessageRepo{db: db} }

// EnsureTable creates the chat_messages table if not exists (idempotent).
func (r *MessageRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chat_messages (
  id varchar(32) PRIMARY KEY,
  project_id varchar(32) NOT NULL,
  sender_id varchar(32) NOT NULL,
  sender_name TEXT NOT NULL,
  body TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_project_created
  ON chat_messages (project_id, created_at DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Append inserts a message, assigning the creation timestamp if absent.
func (r *MessageRepo) Append(ctx context.Context, m *entity.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO chat_messages (id, project_id, sender_id, sender_name, body, created_at)
VALUES (:id, :project_id, :sender_id, :sender_name, :body, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// RecentForProject returns up to limit most recent messages for the
// project, newest first. An empty project yields an empty slice.
func (r *MessageRepo) RecentForProject(ctx context.Context, projectID string, limit int) ([]entity.Message, error) {
	out := []entity.Message{}
	err := r.db.SelectContext(ctx, &out, `
SELECT id, project_id, sender_id, sender_name, body, created_at
FROM chat_messages
WHERE project_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// AllForProject returns the full history in ascending creation order.
func (r *MessageRepo) AllForProject(ctx context.Context, projectID string) ([]entity.Message, error) {
	out := []entity.Message{}
	err := r.db.SelectContext(ctx, &out, `
SELECT id, project_id, sender_id, sender_name, body, created_at
FROM chat_messages
WHERE project_id = $1
ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}
