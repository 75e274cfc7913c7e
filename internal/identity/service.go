package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/entity"
	identityrepo "github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-collab-go/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface (abstract so we can
// swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	if pw == "" {
		return "", "", errors.New("empty password")
	}
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	if pw == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Store is the identity persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, id *entity.Identity) error
	GetByID(ctx context.Context, id string) (*entity.Identity, error)
	GetByIdentifier(ctx context.Context, identifier string) (*entity.Identity, error)
	GetByEmail(ctx context.Context, email string) (*entity.Identity, error)
	List(ctx context.Context, limit, offset int) ([]entity.Identity, error)
	CountAll(ctx context.Context) (int, error)
	UpdatePassword(ctx context.Context, id, hash, algo string) error
	UpdateAccount(ctx context.Context, id, name, username, email string) error
	UpdateAvatar(ctx context.Context, id, url, blobID string) error
	Delete(ctx context.Context, id string) error
}

var (
	ErrNotFound       = errors.New("identity not found")
	ErrDuplicate      = errors.New("identity with email or username already exists")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrForbidden      = errors.New("admin privileges required")
)

// Service orchestrates registration, password authentication and account
// maintenance for identities.
type Service struct {
	store  Store
	hasher PasswordHasher
}

func NewService(store Store, hasher PasswordHasher) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &Service{store: store, hasher: hasher}
}

// Register creates a new identity. Username and email are normalized;
// duplicates on either surface as ErrDuplicate.
func (s *Service) Register(ctx context.Context, name, username, email, password string) (*entity.Identity, error) {
	name = strings.TrimSpace(name)
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return nil, ErrBadCredentials
	}
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	id := &entity.Identity{
		ID:           utilities.NewKSUID(),
		Name:         name,
		Username:     username,
		Email:        email,
		Role:         entity.RoleEmployee,
		PasswordHash: hash,
		PasswordAlgo: algo,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.store.Create(ctx, id); err != nil {
		if errors.Is(err, identityrepo.ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return id, nil
}

// Authenticate verifies an email-or-username identifier against the
// stored password hash. Missing identities and wrong passwords both
// surface as ErrBadCredentials to avoid account enumeration.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*entity.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrBadCredentials
	}
	id, err := s.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(id.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	return id, nil
}

// ChangePassword verifies the old password before installing the new one.
func (s *Service) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	id, err := s.GetByID(ctx, identityID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(id.PasswordHash, oldPassword) {
		return ErrBadCredentials
	}
	hash, algo, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, identityID, hash, algo)
}

// UpdateAccount replaces name/username/email on the identity.
func (s *Service) UpdateAccount(ctx context.Context, identityID, name, username, email string) (*entity.Identity, error) {
	name = strings.TrimSpace(name)
	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || username == "" || email == "" {
		return nil, ErrBadCredentials
	}
	if err := s.store.UpdateAccount(ctx, identityID, name, username, email); err != nil {
		switch {
		case errors.Is(err, identityrepo.ErrDuplicate):
			return nil, ErrDuplicate
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetByID(ctx, identityID)
}

// UpdateAvatar stores the new avatar reference.
func (s *Service) UpdateAvatar(ctx context.Context, identityID, url, blobID string) error {
	return s.store.UpdateAvatar(ctx, identityID, url, blobID)
}

// requireAdmin resolves the acting identity and checks its role.
func (s *Service) requireAdmin(ctx context.Context, actorID string) error {
	actor, err := s.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != entity.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// ListAll returns one page of identities, newest first, plus the total
// count. Restricted to administrators.
func (s *Service) ListAll(ctx context.Context, actorID string, page, limit int) ([]entity.Identity, int, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	ids, err := s.store.List(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	return ids, total, nil
}

// Delete removes an identity account. Restricted to administrators; the
// removed identity is returned so callers can release its avatar blob.
func (s *Service) Delete(ctx context.Context, actorID, targetID string) (*entity.Identity, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	target, err := s.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, targetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return target, nil
}

// GetByID fetches an identity, mapping missing rows to ErrNotFound.
func (s *Service) GetByID(ctx context.Context, identityID string) (*entity.Identity, error) {
	id, err := s.store.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return id, nil
}
