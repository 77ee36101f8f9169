package domain

import (
	"context"
	"time"
)

// MembershipUserEmails is the membership instance holding active users' emails.
const MembershipUserEmails = "user.emails"

// User represents an account on the platform.
type User struct {
	ID        int64     // Unique identifier
	Name      string    // Display name
	Email     string    // Login email (unique among active users)
	CreatedAt time.Time // Account creation timestamp
	UpdatedAt time.Time // Last profile update timestamp
}

// UserRepository defines the contract for user data persistence.
type UserRepository interface {
	// GetByID retrieves a user by their ID.
	// Returns ErrNotFound if the user doesn't exist.
	GetByID(ctx context.Context, id int64) (User, error)

	// Insert creates a new user account and backfills the ID.
	// Returns a StoreConflict error when the email is already registered.
	Insert(ctx context.Context, u *User) error

	// ExistsByEmail is the authoritative lookup behind the email membership instance.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// FetchEmails pages active users' emails in ascending order after the given one.
	FetchEmails(ctx context.Context, after string, limit int) ([]string, error)
}

// UserUsecase defines the business logic contract for user operations.
type UserUsecase interface {
	// Register creates a new account.
	// Returns ErrEmailTaken if the email already exists, even under a concurrent signup.
	Register(ctx context.Context, name, email string) (User, error)

	// EmailAvailable answers the signup pre-check.
	EmailAvailable(ctx context.Context, email string) (bool, error)
}
