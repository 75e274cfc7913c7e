package project

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/project/entity"
	projectrepo "github.com/ovaphlow/pitchfork/service-collab-go/internal/project/repo"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

var (
	ErrNotFound   = errors.New("project not found")
	ErrDuplicate  = errors.New("project with name already exists")
	ErrForbidden  = errors.New("not allowed")
	ErrBadRequest = errors.New("name and description are required")
)

// Store is the project persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, p *entity.Project) error
	GetByID(ctx context.Context, id string) (*entity.Project, error)
	ListForMember(ctx context.Context, identityID string) ([]entity.Project, error)
	AddMember(ctx context.Context, projectID, identityID string) error
	RemoveMember(ctx context.Context, projectID, identityID string) error
	SetFile(ctx context.Context, projectID, url, blobID string) error
	IsMember(ctx context.Context, projectID, identityID string) (bool, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service { return &Service{store: store} }

// Create registers a new project owned by creatorID.
func (s *Service) Create(ctx context.Context, creatorID, name, description string, deadline *time.Time, members []string) (*entity.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(description) == "" {
		return nil, ErrBadRequest
	}
	p := &entity.Project{
		ID:          utilities.NewKSUID(),
		Name:        name,
		Description: description,
		Deadline:    deadline,
		Members:     members,
		CreatedBy:   creatorID,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if p.Members == nil {
		p.Members = []string{}
	}
	if err := s.store.Create(ctx, p); err != nil {
		if errors.Is(err, projectrepo.ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return p, nil
}

// Get fetches a project the identity may see.
func (s *Service) Get(ctx context.Context, projectID, identityID string) (*entity.Project, error) {
	p, err := s.store.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ok, err := s.store.IsMember(ctx, projectID, identityID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return p, nil
}

// ListForMember returns the identity's projects.
func (s *Service) ListForMember(ctx context.Context, identityID string) ([]entity.Project, error) {
	return s.store.ListForMember(ctx, identityID)
}

// AddMember adds memberID to the project; only the creator may manage
// membership.
func (s *Service) AddMember(ctx context.Context, projectID, actorID, memberID string) error {
	if err := s.requireCreator(ctx, projectID, actorID); err != nil {
		return err
	}
	return s.store.AddMember(ctx, projectID, memberID)
}

// RemoveMember drops memberID from the project; creator only.
func (s *Service) RemoveMember(ctx context.Context, projectID, actorID, memberID string) error {
	if err := s.requireCreator(ctx, projectID, actorID); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, projectID, memberID)
}

// AttachFile stores the uploaded file reference on the project.
func (s *Service) AttachFile(ctx context.Context, projectID, actorID, url, blobID string) error {
	if err := s.requireCreator(ctx, projectID, actorID); err != nil {
		return err
	}
	return s.store.SetFile(ctx, projectID, url, blobID)
}

// IsMember exposes the membership lookup consumed by the chat gateway
// and the task service.
func (s *Service) IsMember(ctx context.Context, projectID, identityID string) (bool, error) {
	return s.store.IsMember(ctx, projectID, identityID)
}

func (s *Service) requireCreator(ctx context.Context, projectID, actorID string) error {
	p, err := s.store.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if p.CreatedBy != actorID {
		return ErrForbidden
	}
	return nil
}
