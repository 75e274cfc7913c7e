package identity

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/entity"
	identityrepo "github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/repo"
)

// fakeIdentityStore is an in-memory stand-in for the sqlx repo with the
// same uniqueness and conditional-update semantics.
type fakeIdentityStore struct {
	mu    sync.Mutex
	byID  map[string]*entity.Identity
	order []string
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{byID: map[string]*entity.Identity{}}
}

func (f *fakeIdentityStore) Create(ctx context.Context, id *entity.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Username == id.Username || existing.Email == id.Email {
			return identityrepo.ErrDuplicate
		}
	}
	cp := *id
	f.byID[id.ID] = &cp
	f.order = append(f.order, id.ID)
	return nil
}

// List matches the repo's newest-first pagination.
func (f *fakeIdentityStore) List(ctx context.Context, limit, offset int) ([]entity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []entity.Identity{}
	for i := len(f.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		if found, ok := f.byID[f.order[i]]; ok {
			out = append(out, *found)
		}
	}
	return out, nil
}

func (f *fakeIdentityStore) CountAll(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID), nil
}

func (f *fakeIdentityStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeIdentityStore) GetByID(ctx context.Context, id string) (*entity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *found
	return &cp, nil
}

func (f *fakeIdentityStore) GetByIdentifier(ctx context.Context, identifier string) (*entity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.byID {
		if id.Username == identifier || id.Email == identifier {
			cp := *id
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeIdentityStore) GetByEmail(ctx context.Context, email string) (*entity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.byID {
		if id.Email == email {
			cp := *id
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeIdentityStore) UpdatePassword(ctx context.Context, id, hash, algo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	found, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	found.PasswordHash = hash
	found.PasswordAlgo = algo
	return nil
}

func (f *fakeIdentityStore) UpdateAccount(ctx context.Context, id, name, username, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	found, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	for otherID, other := range f.byID {
		if otherID != id && (other.Username == username || other.Email == email) {
			return identityrepo.ErrDuplicate
		}
	}
	found.Name, found.Username, found.Email = name, username, email
	return nil
}

func (f *fakeIdentityStore) UpdateAvatar(ctx context.Context, id, url, blobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	found, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	found.AvatarURL, found.AvatarBlobID = url, blobID
	return nil
}

// refresh credential store surface (used by the handler test)

func (f *fakeIdentityStore) SetRefreshToken(ctx context.Context, id, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	found, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	found.RefreshToken = &token
	return nil
}

func (f *fakeIdentityStore) SwapRefreshToken(ctx context.Context, id, presented, next string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found, ok := f.byID[id]
	if !ok || found.RefreshToken == nil || *found.RefreshToken != presented {
		return false, nil
	}
	found.RefreshToken = &next
	return true, nil
}

func (f *fakeIdentityStore) ClearRefreshToken(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if found, ok := f.byID[id]; ok {
		found.RefreshToken = nil
	}
	return nil
}

// recovery store surface (unused here, satisfies the handler wiring)

func (f *fakeIdentityStore) SetRecoveryCode(ctx context.Context, id, codeHash string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	found, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	found.RecoveryHash = &codeHash
	found.RecoveryExpires = &expires
	return nil
}

func (f *fakeIdentityStore) ConsumeRecoveryCode(ctx context.Context, codeHash, newPasswordHash, algo string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, found := range f.byID {
		if found.RecoveryHash != nil && *found.RecoveryHash == codeHash &&
			found.RecoveryExpires != nil && found.RecoveryExpires.After(time.Now()) {
			found.RecoveryHash = nil
			found.RecoveryExpires = nil
			found.PasswordHash = newPasswordHash
			found.PasswordAlgo = algo
			return id, true, nil
		}
	}
	return "", false, nil
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeIdentityStore(), BcryptHasher{Cost: 4})

	id, err := svc.Register(ctx, "Alice", "Alice", "Alice@Example.com", "Secret1!")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, entity.RoleEmployee, id.Role)
	assert.NotEqual(t, "Secret1!", id.PasswordHash)

	// by username and by email alike
	got, err := svc.Authenticate(ctx, "alice", "Secret1!")
	require.NoError(t, err)
	assert.Equal(t, id.ID, got.ID)
	got, err = svc.Authenticate(ctx, "alice@example.com", "Secret1!")
	require.NoError(t, err)
	assert.Equal(t, id.ID, got.ID)
}

func TestRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeIdentityStore(), BcryptHasher{Cost: 4})

	_, err := svc.Register(ctx, "Alice", "alice", "alice@example.com", "Secret1!")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Other", "alice", "other@example.com", "Secret1!")
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = svc.Register(ctx, "Other", "other", "alice@example.com", "Secret1!")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAuthenticateFailures(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeIdentityStore(), BcryptHasher{Cost: 4})
	_, err := svc.Register(ctx, "Alice", "alice", "alice@example.com", "Secret1!")
	require.NoError(t, err)

	cases := []struct {
		name       string
		identifier string
		password   string
	}{
		{"wrong password", "alice", "wrong"},
		{"unknown identifier", "nobody", "Secret1!"},
		{"empty identifier", "", "Secret1!"},
		{"empty password", "alice", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, tc.identifier, tc.password)
			assert.ErrorIs(t, err, ErrBadCredentials)
		})
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeIdentityStore(), BcryptHasher{Cost: 4})
	id, err := svc.Register(ctx, "Alice", "alice", "alice@example.com", "Secret1!")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(ctx, id.ID, "wrong", "Next1!"), ErrBadCredentials)
	require.NoError(t, svc.ChangePassword(ctx, id.ID, "Secret1!", "Next1!"))

	_, err = svc.Authenticate(ctx, "alice", "Secret1!")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = svc.Authenticate(ctx, "alice", "Next1!")
	require.NoError(t, err)
}

func registerAdmin(t *testing.T, ctx context.Context, svc *Service, store *fakeIdentityStore) *entity.Identity {
	t.Helper()
	admin, err := svc.Register(ctx, "Root", "root", "root@example.com", "Secret1!")
	require.NoError(t, err)
	store.mu.Lock()
	store.byID[admin.ID].Role = entity.RoleAdmin
	store.mu.Unlock()
	return admin
}

func TestListAllRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	store := newFakeIdentityStore()
	svc := NewService(store, BcryptHasher{Cost: 4})
	employee, err := svc.Register(ctx, "Alice", "alice", "alice@example.com", "Secret1!")
	require.NoError(t, err)

	_, _, err = svc.ListAll(ctx, employee.ID, 1, 10)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Delete(ctx, employee.ID, employee.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListAllPaginates(t *testing.T) {
	ctx := context.Background()
	store := newFakeIdentityStore()
	svc := NewService(store, BcryptHasher{Cost: 4})
	admin := registerAdmin(t, ctx, svc, store)
	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := svc.Register(ctx, name, name, name+"@example.com", "Secret1!")
		require.NoError(t, err)
	}

	ids, total, err := svc.ListAll(ctx, admin.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, ids, 2)
	// newest first
	assert.Equal(t, "carol", ids[0].Username)
	assert.Equal(t, "bob", ids[1].Username)

	ids, _, err = svc.ListAll(ctx, admin.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "alice", ids[0].Username)
}

func TestDeleteRemovesAccount(t *testing.T) {
	ctx := context.Background()
	store := newFakeIdentityStore()
	svc := NewService(store, BcryptHasher{Cost: 4})
	admin := registerAdmin(t, ctx, svc, store)
	target, err := svc.Register(ctx, "Alice", "alice", "alice@example.com", "Secret1!")
	require.NoError(t, err)

	removed, err := svc.Delete(ctx, admin.ID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", removed.Username)

	_, err = svc.GetByID(ctx, target.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Authenticate(ctx, "alice", "Secret1!")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = svc.Delete(ctx, admin.ID, target.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBcryptHasherRejectsEmpty(t *testing.T) {
	h := BcryptHasher{Cost: 4}
	_, _, err := h.Hash("")
	assert.Error(t, err)
	assert.False(t, h.Verify("$2a$04$whatever", ""))
}
