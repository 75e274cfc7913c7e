package token

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel errors for credential verification and rotation.
var (
	ErrExpiredCredential         = errors.New("credential expired")
	ErrMalformedCredential       = errors.New("credential malformed")
	ErrReusedOrRevokedCredential = errors.New("credential reused or revoked")
)

// RefreshStore is the persistence surface rotation needs: the single
// stored refresh credential per identity, updated conditionally.
type RefreshStore interface {
	SetRefreshToken(ctx context.Context, identityID, token string) error
	SwapRefreshToken(ctx context.Context, identityID, presented, next string) (bool, error)
	ClearRefreshToken(ctx context.Context, identityID string) error
}

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// ConfigFromEnv reads token secrets and TTLs from env vars.
func ConfigFromEnv() Config {
	cfg := Config{
		AccessSecret:  []byte(os.Getenv("ACCESS_TOKEN_SECRET")),
		RefreshSecret: []byte(os.Getenv("REFRESH_TOKEN_SECRET")),
		AccessTTL:     time.Hour,
		RefreshTTL:    3 * 24 * time.Hour,
	}
	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AccessTTL = d
		}
	}
	if v := os.Getenv("REFRESH_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RefreshTTL = d
		}
	}
	return cfg
}

// Service issues and verifies the access/refresh credential pair.
// Access credentials are stateless HS256 assertions; refresh credentials
// additionally require an exact match against the single value stored on
// the identity, which is what makes rotation single-use.
type Service struct {
	cfg   Config
	store RefreshStore
	now   func() time.Time
}

func NewService(cfg Config, store RefreshStore) (*Service, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	return &Service{cfg: cfg, store: store, now: time.Now}, nil
}

func (s *Service) sign(identityID string, secret []byte, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   identityID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Service) verify(tokenString string, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCredential
		}
		return "", ErrMalformedCredential
	}
	if !tok.Valid || claims.Subject == "" {
		return "", ErrMalformedCredential
	}
	return claims.Subject, nil
}

// IssueAccess mints a short-lived access credential for the identity.
// No side effect on storage.
func (s *Service) IssueAccess(identityID string) (string, error) {
	return s.sign(identityID, s.cfg.AccessSecret, s.cfg.AccessTTL)
}

// IssueRefresh mints a refresh credential and persists it as the
// identity's sole current refresh credential, overwriting any previous
// value.
func (s *Service) IssueRefresh(ctx context.Context, identityID string) (string, error) {
	tok, err := s.sign(identityID, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
	if err != nil {
		return "", err
	}
	if err := s.store.SetRefreshToken(ctx, identityID, tok); err != nil {
		return "", err
	}
	return tok, nil
}

// IssuePair mints and stores a fresh access/refresh credential pair.
func (s *Service) IssuePair(ctx context.Context, identityID string) (access, refresh string, err error) {
	access, err = s.IssueAccess(identityID)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.IssueRefresh(ctx, identityID)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// VerifyAccess validates an access credential and returns the identity id
// it asserts.
func (s *Service) VerifyAccess(tokenString string) (string, error) {
	return s.verify(tokenString, s.cfg.AccessSecret)
}

// Rotate verifies the presented refresh credential and atomically swaps
// the stored value for a freshly minted one. A credential that verifies
// cryptographically but no longer matches the stored value has been
// rotated away or revoked; it fails with ErrReusedOrRevokedCredential and
// can never succeed again.
func (s *Service) Rotate(ctx context.Context, presented string) (access, refresh string, err error) {
	identityID, err := s.verify(presented, s.cfg.RefreshSecret)
	if err != nil {
		return "", "", err
	}
	next, err := s.sign(identityID, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
	if err != nil {
		return "", "", err
	}
	swapped, err := s.store.SwapRefreshToken(ctx, identityID, presented, next)
	if err != nil {
		return "", "", err
	}
	if !swapped {
		return "", "", ErrReusedOrRevokedCredential
	}
	access, err = s.IssueAccess(identityID)
	if err != nil {
		return "", "", err
	}
	return access, next, nil
}

// Revoke clears the stored refresh credential; subsequent rotation
// attempts fail with ErrReusedOrRevokedCredential.
func (s *Service) Revoke(ctx context.Context, identityID string) error {
	return s.store.ClearRefreshToken(ctx, identityID)
}
