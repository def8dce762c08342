package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinote/clinote/internal/platform/auth"
)

const (
	maxEmailLen    = 255
	maxNameLen     = 255
	maxPasswordLen = 72 // bcrypt input limit
)

// TokenIssuer issues access tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID, email, role string) (*auth.Token, error)
}

type Service struct {
	repo        Repository
	tokens      TokenIssuer
	revocations auth.RevocationStore
	logger      zerolog.Logger
	now         func() time.Time
	// compared against when the email is unknown so both paths cost a bcrypt round
	dummyHash string
}

func NewService(repo Repository, tokens TokenIssuer, revocations auth.RevocationStore, logger zerolog.Logger) *Service {
	s := &Service{
		repo:        repo,
		tokens:      tokens,
		revocations: revocations,
		logger:      logger.With().Str("component", "identity").Logger(),
		now:         time.Now,
	}
	if h, err := auth.HashPassword(uuid.NewString()); err == nil {
		s.dummyHash = h
	}
	return s
}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
	Role     string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (in *RegisterInput) validate() error {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Role == "" {
		in.Role = auth.RoleProvider
	}

	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email || len(in.Email) > maxEmailLen {
		return &ValidationError{Field: "email", Message: "a valid email address is required"}
	}
	if in.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(in.Name) > maxNameLen {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("name must be at most %d characters", maxNameLen)}
	}
	if len(in.Password) < auth.MinPasswordLength {
		return &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength)}
	}
	if len(in.Password) > maxPasswordLen {
		return &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at most %d bytes", maxPasswordLen)}
	}
	if !auth.ValidRole(in.Role) {
		return &ValidationError{Field: "role", Message: fmt.Sprintf("invalid role: %q", in.Role)}
	}
	return nil
}

// Register creates an active user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &User{
		ID:           uuid.New(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user registered")
	return u, nil
}

// Authenticate checks credentials and issues a token. Unknown email, wrong
// password and inactive account all yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*auth.Token, *User, error) {
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		if s.dummyHash != "" {
			_ = auth.CheckPassword(s.dummyHash, password)
		}
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("stored password hash unreadable")
		}
		return nil, nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, nil, ErrInvalidCredentials
	}

	tok, err := s.tokens.Issue(u.ID.String(), u.Email, u.Role)
	if err != nil {
		return nil, nil, err
	}
	return tok, u, nil
}

func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, userID)
}

// Logout revokes the token identified by jti until it would have expired.
func (s *Service) Logout(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return &ValidationError{Field: "token", Message: "token has no id and cannot be revoked"}
	}
	if err := s.revocations.Revoke(ctx, jti, expiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
