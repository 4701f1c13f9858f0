// Package entity contains the core business objects of the project,
// each representing a unique, identifiable concept within the domain.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that can sign in with an email and password.
type User struct {
	ID           uuid.UUID // Global identifier, generated on insert.
	Username     string    // Display name chosen at signup.
	Email        string    // Unique login identifier.
	PasswordHash string    // argon2id PHC string. Never serialised or logged.
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credential returns the password credential owned by this user record.
func (u *User) Credential() Credential {
	return Credential{UserID: u.ID, PasswordHash: u.PasswordHash}
}

// Credential pairs a user with the irreversible hash of their password.
// It is created on signup, replaced on password reset and deleted with the user.
type Credential struct {
	UserID       uuid.UUID
	PasswordHash string
}
