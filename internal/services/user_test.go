package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourfolio/apiserver/internal/store"
	"github.com/tourfolio/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

type memoryRepo struct {
	mu     sync.Mutex
	users  map[int]*types.User
	nextID int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[int]*types.User{}, nextID: 1}
}

func (r *memoryRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		return *user, nil
	}
	return types.User{}, store.ErrNotFound
}

func (r *memoryRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return *user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memoryRepo) GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.ResetTokenHash.Valid && user.ResetTokenHash.String == hash &&
			user.ResetTokenExpiresAt.Valid && user.ResetTokenExpiresAt.Time.After(now) {
			return *user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memoryRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	user.ID = r.nextID
	r.nextID++
	copied := user
	r.users[user.ID] = &copied
	return user, nil
}

func (r *memoryRepo) UpdatePassword(ctx context.Context, id int, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.PasswordChangedAt.Time = changedAt
	user.PasswordChangedAt.Valid = true
	user.ResetTokenHash.Valid = false
	user.ResetTokenExpiresAt.Valid = false
	return nil
}

func (r *memoryRepo) SetResetToken(ctx context.Context, id int, hash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.ResetTokenHash.String = hash
	user.ResetTokenHash.Valid = true
	user.ResetTokenExpiresAt.Time = expiresAt
	user.ResetTokenExpiresAt.Valid = true
	return nil
}

func (r *memoryRepo) ClearResetToken(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.ResetTokenHash.Valid = false
	user.ResetTokenExpiresAt.Valid = false
	return nil
}

func (r *memoryRepo) UpdatePhoto(ctx context.Context, id int, photo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	user.Photo = photo
	return nil
}

func TestRegisterHashesPasswordAndForcesUserRole(t *testing.T) {
	repo := newMemoryRepo()
	service := NewUserService(repo)

	user, err := service.Register(context.Background(), "Ada", "ada@example.com", "pass1234")
	require.NoError(t, err)

	assert.Equal(t, types.RoleUser, user.Role)
	assert.NotEqual(t, "pass1234", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("pass1234")))
}

func TestAuthenticateDoesNotDistinguishFailures(t *testing.T) {
	repo := newMemoryRepo()
	service := NewUserService(repo)
	_, err := service.Register(context.Background(), "Ada", "ada@example.com", "pass1234")
	require.NoError(t, err)

	_, unknownErr := service.Authenticate(context.Background(), "nobody@example.com", "pass1234")
	_, wrongErr := service.Authenticate(context.Background(), "ada@example.com", "wrong")

	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, ErrInvalidCredentials)

	user, err := service.Authenticate(context.Background(), "ada@example.com", "pass1234")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
}

func TestMintResetTokenStoresOnlyHash(t *testing.T) {
	repo := newMemoryRepo()
	service := NewUserService(repo)
	created, err := service.Register(context.Background(), "Ada", "ada@example.com", "pass1234")
	require.NoError(t, err)

	_, token, err := service.MintResetToken(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.Len(t, token, 64)

	stored, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, stored.ResetTokenHash.Valid)
	assert.NotEqual(t, token, stored.ResetTokenHash.String)
	assert.Equal(t, hashResetToken(token), stored.ResetTokenHash.String)
	require.True(t, stored.ResetTokenExpiresAt.Valid)
	assert.True(t, stored.ResetTokenExpiresAt.Time.After(time.Now()))
}

func TestResetPasswordConsumesToken(t *testing.T) {
	repo := newMemoryRepo()
	service := NewUserService(repo)
	_, err := service.Register(context.Background(), "Ada", "ada@example.com", "pass1234")
	require.NoError(t, err)

	_, token, err := service.MintResetToken(context.Background(), "ada@example.com")
	require.NoError(t, err)

	user, err := service.ResetPassword(context.Background(), token, "brandnew123")
	require.NoError(t, err)
	assert.True(t, user.PasswordChangedAt.Valid)
	assert.False(t, user.ResetTokenHash.Valid)

	_, err = service.ResetPassword(context.Background(), token, "again12345")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
}

func TestResetPasswordRejectsExpiredToken(t *testing.T) {
	repo := newMemoryRepo()
	service := NewUserService(repo)
	_, err := service.Register(context.Background(), "Ada", "ada@example.com", "pass1234")
	require.NoError(t, err)

	_, token, err := service.MintResetToken(context.Background(), "ada@example.com")
	require.NoError(t, err)

	// Advance the service clock past the token's expiry window.
	service.WithClock(func() time.Time { return time.Now().Add(resetTokenTTL + time.Minute) })

	_, err = service.ResetPassword(context.Background(), token, "brandnew123")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
}

func TestChangePasswordVerifiesCurrent(t *testing.T) {
	repo := newMemoryRepo()
	service := NewUserService(repo)
	created, err := service.Register(context.Background(), "Ada", "ada@example.com", "pass1234")
	require.NoError(t, err)

	_, err = service.ChangePassword(context.Background(), created.ID, "wrong", "brandnew123")
	assert.ErrorIs(t, err, ErrWrongPassword)

	user, err := service.ChangePassword(context.Background(), created.ID, "pass1234", "brandnew123")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("brandnew123")))
	assert.True(t, user.PasswordChangedAt.Valid)
}
