package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmsqa/permcore/internal/auth"
	"github.com/dmsqa/permcore/internal/shared"
	_ "github.com/dmsqa/permcore/testing"
)

type stubRepo struct {
	account   *auth.Account
	lastLogin time.Time
}

func (s *stubRepo) FindByUsername(ctx context.Context, username string) (*auth.Account, error) {
	if s.account == nil || s.account.Username != username {
		return nil, shared.ErrNotFound
	}
	return s.account, nil
}

func (s *stubRepo) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	s.lastLogin = at
	return nil
}

func testAccount(t *testing.T, password string) *auth.Account {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &auth.Account{
		ID:           7,
		Username:     "operator",
		PasswordHash: string(hashed),
		IsActive:     true,
	}
}

func TestAuthenticate(t *testing.T) {
	repo := &stubRepo{account: testAccount(t, "correcthorse")}
	svc := auth.NewService(repo, auth.NewTokenIssuer("secret", time.Hour), nil)

	account, err := svc.Authenticate(context.Background(), "operator", "correcthorse")
	require.NoError(t, err)
	assert.Equal(t, int64(7), account.ID)

	_, err = svc.Authenticate(context.Background(), "operator", "wrongpass")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "nobody", "correcthorse")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	account := testAccount(t, "correcthorse")
	account.IsActive = false
	svc := auth.NewService(&stubRepo{account: account}, auth.NewTokenIssuer("secret", time.Hour), nil)

	_, err := svc.Authenticate(context.Background(), "operator", "correcthorse")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	repo := &stubRepo{account: testAccount(t, "correcthorse")}
	repo.account.IsAdmin = true
	svc := auth.NewService(repo, auth.NewTokenIssuer("secret", time.Hour), nil)

	token, expiresAt, account, err := svc.Login(context.Background(), "operator", "correcthorse")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))
	assert.Equal(t, int64(7), account.ID)
	assert.False(t, repo.lastLogin.IsZero())

	identity, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), identity.UserID)
	assert.Equal(t, "operator", identity.Username)
	assert.True(t, identity.IsAdmin)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", time.Hour)
	other := auth.NewTokenIssuer("other-secret", time.Hour)

	token, _, err := issuer.Issue(&auth.Account{ID: 1, Username: "operator"})
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = issuer.Verify(token + "x")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", -time.Minute)

	token, _, err := issuer.Issue(&auth.Account{ID: 1, Username: "operator"})
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}
