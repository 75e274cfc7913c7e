package recovery

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ovaphlow/pitchfork/service-collab-go/internal/identity/entity"
)

// CodeTTL is how long a recovery code stays valid. Expiry is exclusive:
// a code presented at or after the deadline is rejected.
const CodeTTL = 20 * time.Minute

var (
	// ErrInvalidOrExpiredCode is returned for both a wrong code and an
	// expired one, so callers cannot tell which.
	ErrInvalidOrExpiredCode = errors.New("code is invalid or expired")
	// ErrUnknownEmail reports a recovery request for an email with no
	// identity behind it.
	ErrUnknownEmail = errors.New("identity not found")
)

// Store is the identity persistence surface recovery needs.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*entity.Identity, error)
	SetRecoveryCode(ctx context.Context, id, codeHash string, expires time.Time) error
	ConsumeRecoveryCode(ctx context.Context, codeHash, newPasswordHash, algo string) (string, bool, error)
}

// PasswordHasher hashes the replacement password on a successful reset.
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
}

// Service runs the time-boxed, single-use one-time-code flow for
// password recovery. The plain code is returned once for out-of-band
// delivery and never persisted; only its sha256 hash is stored.
type Service struct {
	store  Store
	hasher PasswordHasher
	now    func() time.Time
}

func NewService(store Store, hasher PasswordHasher) *Service {
	return &Service{store: store, hasher: hasher, now: time.Now}
}

// Generate draws a uniformly random 6-digit decimal code and returns the
// plain value together with its hash and absolute expiry.
func (s *Service) Generate() (plain, codeHash string, expires time.Time, err error) {
	// uniform over [100000, 999999]
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("draw recovery code: %w", err)
	}
	plain = strconv.FormatInt(n.Int64()+100000, 10)
	return plain, HashCode(plain), s.now().Add(CodeTTL), nil
}

// HashCode computes the stored one-way hash of a recovery code.
func HashCode(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// Begin stores a fresh recovery code on the identity addressed by email,
// overwriting any prior pending recovery, and returns the identity plus
// the plain code for out-of-band delivery.
func (s *Service) Begin(ctx context.Context, email string) (*entity.Identity, string, error) {
	id, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrUnknownEmail
		}
		return nil, "", err
	}
	plain, codeHash, expires, err := s.Generate()
	if err != nil {
		return nil, "", err
	}
	if err := s.store.SetRecoveryCode(ctx, id.ID, codeHash, expires); err != nil {
		return nil, "", err
	}
	return id, plain, nil
}

// Complete consumes a presented code: the identity whose stored hash
// matches and whose expiry is still in the future gets newPassword
// installed and both recovery fields cleared, all in one conditional
// update. Any other outcome is ErrInvalidOrExpiredCode.
func (s *Service) Complete(ctx context.Context, presentedCode, newPassword string) error {
	if presentedCode == "" || newPassword == "" {
		return ErrInvalidOrExpiredCode
	}
	hash, algo, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	_, ok, err := s.store.ConsumeRecoveryCode(ctx, HashCode(presentedCode), hash, algo)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOrExpiredCode
	}
	return nil
}
