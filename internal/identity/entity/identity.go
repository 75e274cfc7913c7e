package entity

import "time"

// Roles assignable to an identity.
const (
	RoleAdmin    = "ADMIN"
	RoleEmployee = "EMPLOYEE"
)

// Identity represents an account row in the `identities` table.
//
// RefreshToken holds the single currently-valid refresh credential for
// the account; rotation replaces it, logout clears it. RecoveryHash and
// RecoveryExpires hold the pending password-reset code state; both are
// nil unless a reset is in flight, and only the one-way hash of the code
// is ever stored.
type Identity struct {
	ID              string     `db:"id"`
	Name            string     `db:"name"`
	Username        string     `db:"username"`
	Email           string     `db:"email"`
	Role            string     `db:"role"`
	PasswordHash    string     `db:"password_hash"`
	PasswordAlgo    string     `db:"password_algo"`
	RefreshToken    *string    `db:"refresh_token"`
	RecoveryHash    *string    `db:"recovery_hash"`
	RecoveryExpires *time.Time `db:"recovery_expires"`
	AvatarURL       string     `db:"avatar_url"`
	AvatarBlobID    string     `db:"avatar_blob_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// PublicView is the projection returned to clients; no secret fields.
type PublicView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public returns the client-safe projection of the identity.
func (i *Identity) Public() PublicView {
	return PublicView{
		ID:        i.ID,
		Name:      i.Name,
		Username:  i.Username,
		Email:     i.Email,
		Role:      i.Role,
		AvatarURL: i.AvatarURL,
		CreatedAt: i.CreatedAt,
	}
}
