package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/entity"
)

// ErrDuplicate reports a username or email collision on insert/update.
var ErrDuplicate = errors.New("identity already exists")

// IdentityRepo provides data access for the identities table using sqlx.
type IdentityRepo struct {
	db *sqlx.DB
}

func NewIdentityRepo(db *sqlx.DB) *IdentityRepo { return &IdentityRepo{db: db} }

// EnsureTable creates the identities table if not exists (idempotent).
// Convenience for early development; prefer migrations in production.
func (r *IdentityRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS identities (
  id varchar(32) PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  username TEXT NOT NULL UNIQUE,
  email CITEXT NOT NULL UNIQUE,
  role TEXT NOT NULL DEFAULT 'EMPLOYEE',
  password_hash TEXT NOT NULL,
  password_algo TEXT NOT NULL DEFAULT '',
  refresh_token TEXT,
  recovery_hash TEXT,
  recovery_expires TIMESTAMPTZ,
  avatar_url TEXT NOT NULL DEFAULT '',
  avatar_blob_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_identities_recovery_hash ON identities(recovery_hash);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Create inserts a new identity. Returns ErrDuplicate when username or
// email collides with an existing row.
func (r *IdentityRepo) Create(ctx context.Context, id *entity.Identity) error {
	const query = `
INSERT INTO identities (id, name, username, email, role, password_hash, password_algo, avatar_url, avatar_blob_id)
VALUES (:id, :name, :username, :email, :role, :password_hash, :password_algo, :avatar_url, :avatar_blob_id)`
	if _, err := r.db.NamedExecContext(ctx, query, id); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

const selectColumns = `id, name, username, email, role, password_hash, password_algo,
refresh_token, recovery_hash, recovery_expires, avatar_url, avatar_blob_id, created_at, updated_at`

// GetByID fetches an identity by primary key.
func (r *IdentityRepo) GetByID(ctx context.Context, id string) (*entity.Identity, error) {
	var out entity.Identity
	err := r.db.GetContext(ctx, &out,
		`SELECT `+selectColumns+` FROM identities WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByIdentifier fetches by username or email with a single query
// against the uniqueness-enforced indexes on both fields.
func (r *IdentityRepo) GetByIdentifier(ctx context.Context, identifier string) (*entity.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	var out entity.Identity
	err := r.db.GetContext(ctx, &out,
		`SELECT `+selectColumns+` FROM identities WHERE username = $1 OR email = $1`, identifier)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns identities newest first with limit/offset pagination.
func (r *IdentityRepo) List(ctx context.Context, limit, offset int) ([]entity.Identity, error) {
	out := []entity.Identity{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+selectColumns+` FROM identities ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountAll returns the total number of identities.
func (r *IdentityRepo) CountAll(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM identities`)
	return n, err
}

// Delete removes the identity row. Missing rows surface as sql.ErrNoRows.
func (r *IdentityRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetByEmail fetches an identity by email.
func (r *IdentityRepo) GetByEmail(ctx context.Context, email string) (*entity.Identity, error) {
	var out entity.Identity
	err := r.db.GetContext(ctx, &out,
		`SELECT `+selectColumns+` FROM identities WHERE email = $1`, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePassword replaces the stored password hash.
func (r *IdentityRepo) UpdatePassword(ctx context.Context, id, hash, algo string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET password_hash = $2, password_algo = $3, updated_at = NOW() WHERE id = $1`,
		id, hash, algo)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateAccount updates name/username/email. Returns ErrDuplicate when
// the new username or email collides with another identity.
func (r *IdentityRepo) UpdateAccount(ctx context.Context, id, name, username, email string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET name = $2, username = $3, email = $4, updated_at = NOW() WHERE id = $1`,
		id, name, username, email)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return requireRow(res)
}

// UpdateAvatar replaces the stored avatar reference.
func (r *IdentityRepo) UpdateAvatar(ctx context.Context, id, url, blobID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET avatar_url = $2, avatar_blob_id = $3, updated_at = NOW() WHERE id = $1`,
		id, url, blobID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetRefreshToken stores token as the identity's sole refresh credential,
// overwriting any previous value.
func (r *IdentityRepo) SetRefreshToken(ctx context.Context, id, token string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET refresh_token = $2, updated_at = NOW() WHERE id = $1`, id, token)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SwapRefreshToken atomically replaces the stored refresh credential with
// next only if the current value equals presented. Returns false when the
// row was not updated, i.e. the presented credential has already been
// rotated away or revoked. This single conditional UPDATE is the
// compare-and-swap that keeps concurrent rotations from both succeeding.
func (r *IdentityRepo) SwapRefreshToken(ctx context.Context, id, presented, next string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET refresh_token = $3, updated_at = NOW() WHERE id = $1 AND refresh_token = $2`,
		id, presented, next)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClearRefreshToken drops the stored refresh credential (logout/revoke).
func (r *IdentityRepo) ClearRefreshToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE identities SET refresh_token = NULL, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// SetRecoveryCode stores the recovery code hash and expiry, superseding
// any prior pending recovery.
func (r *IdentityRepo) SetRecoveryCode(ctx context.Context, id, codeHash string, expires time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET recovery_hash = $2, recovery_expires = $3, updated_at = NOW() WHERE id = $1`,
		id, codeHash, expires)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ConsumeRecoveryCode finds the identity whose pending recovery hash
// equals codeHash and whose expiry is still in the future, then in the
// same statement clears the recovery fields and installs the new password
// hash. Returns ok=false when no row matched (wrong code or expired; the
// caller must not distinguish the two).
func (r *IdentityRepo) ConsumeRecoveryCode(ctx context.Context, codeHash, newPasswordHash, algo string) (string, bool, error) {
	var id string
	err := r.db.QueryRowxContext(ctx, `
UPDATE identities
SET password_hash = $2, password_algo = $3, recovery_hash = NULL, recovery_expires = NULL, updated_at = NOW()
WHERE recovery_hash = $1 AND recovery_expires > NOW()
RETURNING id`, codeHash, newPasswordHash, algo).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
