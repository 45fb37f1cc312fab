package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/tourfolio/apiserver/internal/store"
	"github.com/tourfolio/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const resetTokenTTL = 10 * time.Minute

// ErrInvalidCredentials is returned for both an unknown email and a wrong
// password, so callers cannot distinguish the two.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrWrongPassword is returned when an authenticated user supplies an
// incorrect current password for a password change.
var ErrWrongPassword = errors.New("wrong current password")

// ErrResetTokenInvalid is returned for reset tokens that are unknown,
// already consumed, or past their expiry, without distinguishing which.
var ErrResetTokenInvalid = errors.New("reset token invalid or expired")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdatePassword(ctx context.Context, id int, passwordHash string, changedAt time.Time) error
	SetResetToken(ctx context.Context, id int, hash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id int) error
	UpdatePhoto(ctx context.Context, id int, photo string) error
}

// UserService encapsulates account and credential use-cases.
type UserService struct {
	repo UserRepository
	now  func() time.Time
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo, now: time.Now}
}

// WithClock overrides the service clock, for tests.
func (s *UserService) WithClock(now func() time.Time) *UserService {
	s.now = now
	return s
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// Register creates an account with a bcrypt-hashed password. The role is
// always "user"; privileged roles cannot be claimed at signup.
func (s *UserService) Register(ctx context.Context, name, email, password string) (types.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, err
	}
	return s.repo.Create(ctx, types.User{
		Name:         name,
		Email:        email,
		Role:         types.RoleUser,
		PasswordHash: string(hashed),
	})
}

// Authenticate verifies an email/password pair. Unknown email and wrong
// password both return ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// MintResetToken generates a one-time reset token for the account with
// the given email and persists only its hash plus an expiry. The returned
// plaintext token is meant for the emailed link and must never appear in
// an HTTP response.
func (s *UserService) MintResetToken(ctx context.Context, email string) (types.User, string, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return types.User{}, "", err
	}

	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return types.User{}, "", err
	}
	token := hex.EncodeToString(buf[:])

	expiresAt := s.now().Add(resetTokenTTL)
	if err := s.repo.SetResetToken(ctx, user.ID, hashResetToken(token), expiresAt); err != nil {
		return types.User{}, "", err
	}
	return user, token, nil
}

// ClearResetToken rolls back an outstanding reset token, used when the
// reset email could not be delivered.
func (s *UserService) ClearResetToken(ctx context.Context, id int) error {
	return s.repo.ClearResetToken(ctx, id)
}

// ResetPassword consumes a plaintext reset token and sets a new password.
// A token that is unknown, already used, or expired yields
// ErrResetTokenInvalid.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) (types.User, error) {
	user, err := s.repo.GetByResetTokenHash(ctx, hashResetToken(token), s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrResetTokenInvalid
		}
		return types.User{}, err
	}
	return s.setPassword(ctx, user, newPassword)
}

// ChangePassword verifies the current password of an authenticated user
// and replaces it with a new one.
func (s *UserService) ChangePassword(ctx context.Context, id int, currentPassword, newPassword string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return types.User{}, ErrWrongPassword
	}
	return s.setPassword(ctx, user, newPassword)
}

// UpdatePhoto records the object key of a freshly uploaded profile photo.
func (s *UserService) UpdatePhoto(ctx context.Context, id int, photo string) error {
	return s.repo.UpdatePhoto(ctx, id, photo)
}

func (s *UserService) setPassword(ctx context.Context, user types.User, newPassword string) (types.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, err
	}
	changedAt := s.now()
	if err := s.repo.UpdatePassword(ctx, user.ID, string(hashed), changedAt); err != nil {
		return types.User{}, err
	}
	user.PasswordHash = string(hashed)
	user.PasswordChangedAt.Time = changedAt
	user.PasswordChangedAt.Valid = true
	user.ResetTokenHash.Valid = false
	user.ResetTokenExpiresAt.Valid = false
	return user, nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
