// Package service defines interfaces for core, stateless domain logic.
// These services encapsulate business rules that don't naturally fit within a single entity.
package service

import "context"

// PasswordHasher defines the interface for password hashing and verification.
// This abstracts the underlying hashing algorithm (argon2id), keeping the domain pure.
type PasswordHasher interface {
	// Hash generates a salted hash from a plaintext password.
	Hash(ctx context.Context, password string) (string, error)

	// Check compares a plaintext password with a hash to see if they match.
	// A mismatch or a malformed hash is (false, nil). An error means verification could not run.
	Check(ctx context.Context, password, hash string) (bool, error)

	// DummyCheck burns the same work as Check against a fixed hash.
	// Used when no stored credential exists so both login failure paths cost the same.
	// It fails only when Check would have failed to run.
	DummyCheck(ctx context.Context, password string) error
}
