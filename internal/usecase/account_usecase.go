// Package usecase contains the application-specific business rules.
// It orchestrates the domain layer to perform tasks.
package usecase

import (
	"context"

	"orpheus/internal/domain/entity"

	"github.com/google/uuid"
)

// --- Input DTOs ---

// SignupInput defines the data required to create an account.
type SignupInput struct {
	Username string `json:"username" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginInput defines the data required for a user to log in.
type LoginInput struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// ResetPasswordInput defines the data required to change a password.
type ResetPasswordInput struct {
	OldPassword string `json:"old_password" validate:"required,max=1024"`
	NewPassword string `json:"new_password" validate:"required,max=1024"`
}

// --- Output DTOs ---

// SignupOutput returns the newly created account's ID.
type SignupOutput struct {
	UserID uuid.UUID `json:"user_id"`
}

// LoginOutput returns the issued session. SessionID is used as the bearer token.
type LoginOutput struct {
	SessionID string    `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt int64     `json:"expires_at"` // Unix seconds
}

// ProfileOutput identifies the authenticated user.
type ProfileOutput struct {
	UserID uuid.UUID `json:"user_id"`
}

// AccountUsecase defines the interface for account and session lifecycle operations.
// This is the contract that the delivery layer (e.g., API handlers) will depend on.
type AccountUsecase interface {
	Signup(ctx context.Context, input *SignupInput) (*SignupOutput, error)
	Login(ctx context.Context, input *LoginInput) (*LoginOutput, error)
	Logout(ctx context.Context, identity *entity.Identity) error
	ResetPassword(ctx context.Context, identity *entity.Identity, input *ResetPasswordInput) error
	DeleteAccount(ctx context.Context, identity *entity.Identity) error
	Profile(ctx context.Context, identity *entity.Identity) (*ProfileOutput, error)
	// Status resolves a bearer token outside the session middleware.
	Status(ctx context.Context, token string) (*ProfileOutput, error)
}
