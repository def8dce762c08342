package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinote/clinote/internal/platform/apierror"
)

// User maps to the users table.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

var (
	ErrEmailTaken         = apierror.New(apierror.CodeConflict, "email already registered")
	ErrInvalidCredentials = apierror.New(apierror.CodeUnauthorized, "incorrect email or password")
	ErrUserNotFound       = apierror.New(apierror.CodeNotFound, "user not found")
)

// ValidationError reports a rejected registration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string     { return e.Message }
func (e *ValidationError) ErrorCode() string { return apierror.CodeValidation }
