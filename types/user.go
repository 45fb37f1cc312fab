package types

import (
	"database/sql"
	"time"
)

// Role values assignable to a user. Signup always assigns RoleUser;
// elevated roles are granted out of band.
const (
	RoleUser  = "user"
	RoleGuide = "guide"
	RoleAdmin = "admin"
)

// User represents an account in the system.
// Credential material is never serialized: the password hash and the
// reset-token fields are excluded from every API response.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address, unique across accounts.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level within the system.
	Role string `json:"role" db:"role"`

	// Photo is the object-storage key of the user's profile photo,
	// empty when none has been uploaded.
	Photo string `json:"photo,omitempty" db:"photo"`

	// PasswordHash stores the bcrypt hash of the user's password.
	PasswordHash string `json:"-" db:"password_hash"`

	// PasswordChangedAt records the last password change. Session
	// tokens issued before this instant are rejected.
	PasswordChangedAt sql.NullTime `json:"-" db:"password_changed_at"`

	// ResetTokenHash is the SHA-256 hex digest of an outstanding
	// password-reset token, if one has been issued.
	ResetTokenHash sql.NullString `json:"-" db:"reset_token_hash"`

	// ResetTokenExpiresAt bounds the validity of ResetTokenHash.
	ResetTokenExpiresAt sql.NullTime `json:"-" db:"reset_token_expires_at"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PasswordChangedAfter reports whether the user's password was changed
// strictly after t. The comparison truncates to whole seconds because
// JWT timestamps carry second precision; without that a token issued in
// the same second as the change would be wrongly revoked.
func (u User) PasswordChangedAfter(t time.Time) bool {
	return u.PasswordChangedAt.Valid &&
		u.PasswordChangedAt.Time.Truncate(time.Second).After(t)
}
