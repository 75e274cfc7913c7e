package task

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/task/entity"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

var (
	ErrNotFound   = errors.New("task not found")
	ErrForbidden  = errors.New("not a project member")
	ErrBadRequest = errors.New("title and projectId are required")
)

// Store is the task persistence surface.
type Store interface {
	Create(ctx context.Context, t *entity.Task) error
	GetByID(ctx context.Context, id string) (*entity.Task, error)
	ListByProject(ctx context.Context, projectID string) ([]entity.Task, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// Membership answers whether an identity belongs to a project.
type Membership interface {
	IsMember(ctx context.Context, projectID, identityID string) (bool, error)
}

type Service struct {
	store   Store
	members Membership
}

func NewService(store Store, members Membership) *Service {
	return &Service{store: store, members: members}
}

// Create adds a task to a project the actor is a member of. Unknown
// priority/status values fall back to the defaults.
func (s *Service) Create(ctx context.Context, actorID string, t *entity.Task) (*entity.Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" || t.ProjectID == "" {
		return nil, ErrBadRequest
	}
	ok, err := s.members.IsMember(ctx, t.ProjectID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	if !entity.ValidPriority(t.Priority) {
		t.Priority = entity.PriorityMedium
	}
	if !entity.ValidStatus(t.Status) {
		t.Status = entity.StatusTodo
	}
	if t.Assignee == "" {
		t.Assignee = actorID
	}
	t.ID = utilities.NewKSUID()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListByProject returns the project's tasks for a member.
func (s *Service) ListByProject(ctx context.Context, actorID, projectID string) ([]entity.Task, error) {
	if projectID == "" {
		return nil, ErrBadRequest
	}
	ok, err := s.members.IsMember(ctx, projectID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return s.store.ListByProject(ctx, projectID)
}

// UpdateStatus moves a task between statuses; member only.
func (s *Service) UpdateStatus(ctx context.Context, actorID, taskID, status string) (*entity.Task, error) {
	if !entity.ValidStatus(status) {
		return nil, ErrBadRequest
	}
	t, err := s.store.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ok, err := s.members.IsMember(ctx, t.ProjectID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	if err := s.store.UpdateStatus(ctx, taskID, status); err != nil {
		return nil, err
	}
	t.Status = status
	return t, nil
}
