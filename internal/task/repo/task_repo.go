package repo

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/task/entity"
)

type TaskRepo struct {
	db *sqlx.DB
}

func NewTaskRepo(db *sqlx.DB) *TaskRepo { return &TaskRepo{db: db} }

// EnsureTable creates the tasks table if not exists (idempotent).
func (r *TaskRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
  id varchar(32) PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  assignee varchar(32) NOT NULL DEFAULT '',
  priority TEXT NOT NULL DEFAULT 'MEDIUM',
  status TEXT NOT NULL DEFAULT 'TODO',
  deadline TIMESTAMPTZ,
  project_id varchar(32) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks (project_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const selectColumns = `id, title, description, assignee, priority, status, deadline, project_id, created_at, updated_at`

// Create inserts a task.
func (r *TaskRepo) Create(ctx context.Context, t *entity.Task) error {
	const query = `
INSERT INTO tasks (id, title, description, assignee, priority, status, deadline, project_id)
VALUES (:id, :title, :description, :assignee, :priority, :status, :deadline, :project_id)`
	_, err := r.db.NamedExecContext(ctx, query, t)
	return err
}

// GetByID fetches a task by primary key.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	var out entity.Task
	err := r.db.GetContext(ctx, &out,
		`SELECT `+selectColumns+` FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListByProject returns the project's tasks, newest first.
func (r *TaskRepo) ListByProject(ctx context.Context, projectID string) ([]entity.Task, error) {
	out := []entity.Task{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+selectColumns+` FROM tasks WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus sets the task status.
func (r *TaskRepo) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}
