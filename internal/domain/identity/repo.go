package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create returns ErrEmailTaken when the email is already registered.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*User, error)
}
