package repo

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/project/entity"
)

// ErrDuplicate reports a project name collision.
var ErrDuplicate = errors.New("project already exists")

type ProjectRepo struct {
	db *sqlx.DB
}

func NewProjectRepo(db *sqlx.DB) *ProjectRepo { return &ProjectRepo{db: db} }

// EnsureTable creates the projects table if not exists (idempotent).
func (r *ProjectRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS projects (
  id varchar(32) PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  deadline TIMESTAMPTZ,
  members TEXT[] NOT NULL DEFAULT '{}',
  file_url TEXT NOT NULL DEFAULT '',
  file_blob_id TEXT NOT NULL DEFAULT '',
  created_by varchar(32) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_projects_members ON projects USING GIN (members);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const selectColumns = `id, name, description, deadline, members, file_url, file_blob_id, created_by, created_at, updated_at`

// Create inserts a project; name collisions surface as ErrDuplicate.
func (r *ProjectRepo) Create(ctx context.Context, p *entity.Project) error {
	const query = `
INSERT INTO projects (id, name, description, deadline, members, file_url, file_blob_id, created_by)
VALUES (:id, :name, :description, :deadline, :members, :file_url, :file_blob_id, :created_by)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetByID fetches a project by primary key.
func (r *ProjectRepo) GetByID(ctx context.Context, id string) (*entity.Project, error) {
	var out entity.Project
	err := r.db.GetContext(ctx, &out,
		`SELECT `+selectColumns+` FROM projects WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListForMember returns projects the identity created or belongs to.
func (r *ProjectRepo) ListForMember(ctx context.Context, identityID string) ([]entity.Project, error) {
	out := []entity.Project{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+selectColumns+` FROM projects
WHERE created_by = $1 OR $1 = ANY(members)
ORDER BY created_at DESC`, identityID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddMember appends the identity to the member list if not present.
func (r *ProjectRepo) AddMember(ctx context.Context, projectID, identityID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE projects
SET members = array_append(members, $2), updated_at = NOW()
WHERE id = $1 AND NOT ($2 = ANY(members))`, projectID, identityID)
	return err
}

// RemoveMember drops the identity from the member list.
func (r *ProjectRepo) RemoveMember(ctx context.Context, projectID, identityID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE projects
SET members = array_remove(members, $2), updated_at = NOW()
WHERE id = $1`, projectID, identityID)
	return err
}

// SetFile replaces the attached file reference.
func (r *ProjectRepo) SetFile(ctx context.Context, projectID, url, blobID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE projects SET file_url = $2, file_blob_id = $3, updated_at = NOW() WHERE id = $1`,
		projectID, url, blobID)
	return err
}

// IsMember reports whether the identity created the project or appears
// in its member list. This is the membership lookup the realtime gateway
// consumes before honoring joinProject/sendMessage.
func (r *ProjectRepo) IsMember(ctx context.Context, projectID, identityID string) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `
SELECT EXISTS (
  SELECT 1 FROM projects
  WHERE id = $1 AND (created_by = $2 OR $2 = ANY(members))
)`, projectID, identityID)
	if err != nil {
		return false, err
	}
	return ok, nil
}
