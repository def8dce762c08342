//go:build integration

package integration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinote/clinote/internal/domain/identity"
	"github.com/clinote/clinote/internal/platform/auth"
)

func newIdentityService(t *testing.T) *identity.Service {
	t.Helper()
	tokens, err := auth.NewTokenIssuer([]byte(strings.Repeat("k", 32)), "clinote-test", time.Minute)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	revocations := auth.NewMemoryRevocationStore(0)
	t.Cleanup(revocations.Close)
	return identity.NewService(identity.NewRepo(testPool), tokens, revocations, zerolog.Nop())
}

func TestIdentity_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newIdentityService(t)

	u := createTestUser(t, ctx)

	tok, got, err := svc.Authenticate(ctx, strings.ToUpper(u.Email), "correct horse battery")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected user %s, got %s", u.ID, got.ID)
	}
	if tok.AccessToken == "" {
		t.Error("expected an access token")
	}

	if _, _, err := svc.Authenticate(ctx, u.Email, "wrong password"); !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestIdentity_DuplicateEmailCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	svc := newIdentityService(t)

	u := createTestUser(t, ctx)
	_, err := svc.Register(ctx, identity.RegisterInput{
		Email:    strings.ToUpper(u.Email),
		Name:     "Duplicate",
		Password: "another password",
		Role:     auth.RoleProvider,
	})
	if !errors.Is(err, identity.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}
